package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/tts"
	"github.com/normanking/lipsync/internal/wav"
)

type fakeSpeaker struct {
	out tts.LipSyncAudio
	err error
	got tts.SpeechRequest
}

func (f *fakeSpeaker) SpeakWithTimestamps(ctx context.Context, req tts.SpeechRequest) (tts.LipSyncAudio, error) {
	f.got = req
	return f.out, f.err
}

type testEnv struct {
	server  *httptest.Server
	metrics *metrics.Metrics
	bus     *bus.EventBus
}

func newTestEnv(t *testing.T, deps Deps) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bus.NewEventBus()
	m.Subscribe(b)

	deps.Metrics = m
	deps.Gatherer = reg
	deps.Bus = b
	deps.Logger = zerolog.Nop()

	cfg := config.DefaultConfig()
	cfg.LipSync.SampleRate = 1000
	s := New(cfg, deps)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, metrics: m, bus: b}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var h HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, []string{"cs", "sk"}, h.Languages)
	assert.False(t, h.Services["transcriber"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, Deps{})

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}

func TestApproximate(t *testing.T) {
	env := newTestEnv(t, Deps{})
	// 2000 bytes at 1000 Hz, 2 bytes/sample = 1000 ms
	pcm := base64.StdEncoding.EncodeToString(make([]byte, 2000))

	resp, body := env.post(t, "/v1/timing/approximate", ApproximateRequest{AudioBase64: pcm, Text: "ahoj jak se mas"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var timing lipsync.WordTiming
	require.NoError(t, json.Unmarshal(body, &timing))
	assert.Equal(t, []string{"ahoj", "jak", "se", "mas"}, timing.Words)
	assert.InDeltaSlice(t, []float64{200, 200, 200, 200}, timing.DurationsMs, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RequestCount.WithLabelValues("POST", "/v1/timing/approximate", "200")))
}

func TestApproximate_BadInput(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, body := env.post(t, "/v1/timing/approximate", ApproximateRequest{AudioBase64: "%%%", Text: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "audio_base64")

	r, err := http.Post(env.server.URL+"/v1/timing/approximate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	r, err = http.Get(env.server.URL + "/v1/timing/approximate")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
}

func TestPrecise(t *testing.T) {
	var gotFile []byte
	transcriber := lipsync.TranscriberFunc(func(ctx context.Context, file []byte, language string) ([]lipsync.TimestampedWord, error) {
		gotFile = file
		assert.Equal(t, "sk", language)
		return []lipsync.TimestampedWord{{Word: "dobrý", Start: 0.25, End: 0.75}}, nil
	})
	env := newTestEnv(t, Deps{Transcriber: transcriber})

	resp, body := env.post(t, "/v1/timing/precise", PreciseRequest{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
		SampleRate:  16000,
		Language:    "sk",
	})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var timing lipsync.WordTiming
	require.NoError(t, json.Unmarshal(body, &timing))
	assert.Equal(t, []string{"dobrý"}, timing.Words)
	assert.InDeltaSlice(t, []float64{250}, timing.StartsMs, 1e-9)
	assert.InDeltaSlice(t, []float64{500}, timing.DurationsMs, 1e-9)

	c, err := wav.Decode(gotFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), c.Header.SampleRate)
}

func TestPrecise_Unavailable(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, _ := env.post(t, "/v1/timing/precise", PreciseRequest{AudioBase64: ""})

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPrecise_TranscriberError(t *testing.T) {
	transcriber := lipsync.TranscriberFunc(func(ctx context.Context, file []byte, language string) ([]lipsync.TimestampedWord, error) {
		return nil, errors.New("upstream down")
	})
	env := newTestEnv(t, Deps{Transcriber: transcriber})

	resp, body := env.post(t, "/v1/timing/precise", PreciseRequest{AudioBase64: "AAAA"})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "upstream down")
}

func TestAlignment(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, body := env.post(t, "/v1/timing/alignment", AlignmentRequest{
		NormalizedAlignment: &lipsync.AlignmentInfo{
			Characters:         []string{"H", "I", " ", "Y", "O"},
			CharacterStartsSec: []float64{0, 0.1, 0.2, 0.3, 0.4},
			CharacterEndsSec:   []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var timing lipsync.WordTiming
	require.NoError(t, json.Unmarshal(body, &timing))
	assert.Equal(t, []string{"HI", "YO"}, timing.Words)
	assert.InDeltaSlice(t, []float64{0, 300}, timing.StartsMs, 1e-6)
}

func TestAlignment_Empty(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, body := env.post(t, "/v1/timing/alignment", AlignmentRequest{})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"words":[],"wtimes":[],"wdurations":[]}`, string(body))
}

func TestVisemes(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, body := env.post(t, "/v1/visemes", VisemeRequest{Text: "ahoj", Language: "en"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v VisemeResponse
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "AHOJ", v.Words)
	assert.Equal(t, []string{"aa", "HH", "O", "I"}, v.Visemes)
	assert.Equal(t, "cs", v.Language)
	assert.True(t, v.Fallback)
}

func TestSpeech(t *testing.T) {
	speaker := &fakeSpeaker{out: tts.LipSyncAudio{
		Audio: [][]byte{{9, 9}},
		WordTiming: lipsync.WordTiming{
			Words: []string{"ahoj"}, StartsMs: []float64{0}, DurationsMs: []float64{300},
		},
	}}
	env := newTestEnv(t, Deps{Speaker: speaker})

	resp, body := env.post(t, "/v1/speech/timestamped", tts.SpeechRequest{Text: "ahoj", Language: "cs", Sex: "F"})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "F", speaker.got.Sex)
	assert.JSONEq(t, `{"audio":["CQk="],"words":["ahoj"],"wtimes":[0],"wdurations":[300]}`, string(body))
}

func TestSpeech_Errors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		status int
	}{
		{"not configured", Deps{}, http.StatusServiceUnavailable},
		{"empty text", Deps{Speaker: &fakeSpeaker{err: tts.ErrEmptyText}}, http.StatusBadRequest},
		{"missing key", Deps{Speaker: &fakeSpeaker{err: tts.ErrMissingAPIKey}}, http.StatusServiceUnavailable},
		{"upstream", Deps{Speaker: &fakeSpeaker{err: tts.ErrAPI}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.deps)
			resp, _ := env.post(t, "/v1/speech/timestamped", tts.SpeechRequest{Text: "x"})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWav(t *testing.T) {
	env := newTestEnv(t, Deps{})
	pcm := []byte{1, 0, 2, 0}

	resp, body := env.post(t, "/v1/wav", WavRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
		SampleRate:  22050,
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, wav.Encode(pcm, 22050, 1, 2), body)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Deps{})
	env.post(t, "/v1/visemes", VisemeRequest{Text: "ahoj", Language: "cs"})

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), "lipsync_requests_total")
}

func TestLogs(t *testing.T) {
	logger, err := logging.New(&logging.Config{Level: logging.LevelInfo, Output: io.Discard, JSON: true})
	require.NoError(t, err)
	env := newTestEnv(t, Deps{History: logger})

	zl := logger.Component("viseme")
	zl.Info().Str("language", "cs").Msg("first")
	zl.Warn().Msg("second")

	get := func(query string) (*http.Response, LogsResponse) {
		resp, err := http.Get(env.server.URL + "/v1/logs" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out LogsResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp, out
	}

	resp, all := get("")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, all.Entries, 2)
	assert.Equal(t, "first", all.Entries[0].Message)
	assert.Equal(t, "viseme", all.Entries[0].Component)
	assert.Equal(t, "language=cs", all.Entries[0].Data)

	resp, last := get("?limit=1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, last.Entries, 1)
	assert.Equal(t, "second", last.Entries[0].Message)
	assert.Equal(t, "warn", last.Entries[0].Level)

	resp, _ = get("?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogs_Unavailable(t *testing.T) {
	env := newTestEnv(t, Deps{})

	resp, err := http.Get(env.server.URL + "/v1/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(env.server.URL+"/v1/logs", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, Deps{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server), nil)
	require.NoError(t, err)
	defer conn.Close()

	tests := []struct {
		name    string
		request string
		check   func(t *testing.T, reply map[string]any)
	}{
		{"visemes", `{"id":"1","op":"visemes","text":"kôň","language":"sk"}`, func(t *testing.T, reply map[string]any) {
			result := reply["result"].(map[string]any)
			assert.Equal(t, []any{"kk", "U", "O", "NN"}, result["visemes"])
		}},
		{"alignment", `{"id":"2","op":"alignment","alignment":{"characters":["A"," ","B"]}}`, func(t *testing.T, reply map[string]any) {
			result := reply["result"].(map[string]any)
			assert.Equal(t, []any{"A", "B"}, result["words"])
		}},
		{"approximate", `{"id":"3","op":"approximate","audio_base64":"AAAAAA==","text":"ahoj"}`, func(t *testing.T, reply map[string]any) {
			result := reply["result"].(map[string]any)
			assert.Equal(t, []any{"ahoj"}, result["words"])
		}},
		{"unknown op", `{"id":"4","op":"dance"}`, func(t *testing.T, reply map[string]any) {
			assert.Contains(t, reply["error"], "unknown op")
			assert.Nil(t, reply["result"])
		}},
		{"bad payload", `{"id":"5","op":"approximate","audio_base64":"%%"}`, func(t *testing.T, reply map[string]any) {
			assert.Contains(t, reply["error"], "audio_base64")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.request)))

			var reply map[string]any
			require.NoError(t, conn.ReadJSON(&reply))

			var req WSRequest
			require.NoError(t, json.Unmarshal([]byte(tt.request), &req))
			assert.Equal(t, req.ID, reply["id"])
			assert.Equal(t, req.Op, reply["op"])
			tt.check(t, reply)
		})
	}
}

func TestWebSocket_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, Deps{})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.server), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var reply WSReply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Op)
	assert.Contains(t, reply.Error, "invalid message")
}
