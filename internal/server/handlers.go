package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/tts"
	"github.com/normanking/lipsync/internal/viseme"
	"github.com/normanking/lipsync/internal/wav"
)

// ApproximateRequest asks for word timing estimated from audio length.
type ApproximateRequest struct {
	AudioBase64    string `json:"audio_base64"`
	Text           string `json:"text"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	BytesPerSample int    `json:"bytes_per_sample,omitempty"`
}

// PreciseRequest asks for word timing from a word-level transcription.
type PreciseRequest struct {
	AudioBase64    string `json:"audio_base64"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	BytesPerSample int    `json:"bytes_per_sample,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	Language       string `json:"language"`
}

// AlignmentRequest carries a provider's character alignment.
type AlignmentRequest struct {
	Alignment           *lipsync.AlignmentInfo `json:"alignment"`
	NormalizedAlignment *lipsync.AlignmentInfo `json:"normalized_alignment"`
}

// VisemeRequest asks for a viseme timeline.
type VisemeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// VisemeResponse is a viseme timeline and the table that produced it.
type VisemeResponse struct {
	viseme.Timing
	Language string  `json:"language"`
	Fallback bool    `json:"fallback"`
	UnitMs   float64 `json:"unit_ms,omitempty"` // set when times are in milliseconds
}

// WavRequest asks for raw PCM to be wrapped in a WAV container.
type WavRequest struct {
	AudioBase64    string `json:"audio_base64"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	BytesPerSample int    `json:"bytes_per_sample,omitempty"`
}

// requestError carries the HTTP status for a failed operation.
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func statusOf(err error) int {
	var re *requestError
	if errors.As(err, &re) {
		return re.status
	}
	return http.StatusInternalServerError
}

func decodeAudio(b64 string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, badRequest("audio_base64: %v", err)
	}
	return pcm, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *Server) publishTiming(algorithm string, timing lipsync.WordTiming) {
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeTimingDerived,
		Data: map[string]any{
			"algorithm":  algorithm,
			"words":      timing.Len(),
			"durationMs": timing.End(),
		},
	})
}

func (s *Server) approximate(req ApproximateRequest) (lipsync.WordTiming, error) {
	pcm, err := decodeAudio(req.AudioBase64)
	if err != nil {
		return lipsync.WordTiming{}, err
	}

	timing := s.engine.Approximate(pcm, req.Text,
		orDefault(req.SampleRate, s.pcm.SampleRate),
		orDefault(req.BytesPerSample, s.pcm.BytesPerSample))
	s.publishTiming("approximate", timing)
	return timing, nil
}

func (s *Server) precise(ctx context.Context, req PreciseRequest) (lipsync.WordTiming, error) {
	if s.transcriber == nil {
		return lipsync.WordTiming{}, &requestError{status: http.StatusServiceUnavailable, err: lipsync.ErrNoTranscriber}
	}
	pcm, err := decodeAudio(req.AudioBase64)
	if err != nil {
		return lipsync.WordTiming{}, err
	}

	timing, err := s.engine.Precise(ctx, lipsync.PreciseRequest{
		Samples:        pcm,
		SampleRate:     orDefault(req.SampleRate, s.pcm.SampleRate),
		BytesPerSample: orDefault(req.BytesPerSample, s.pcm.BytesPerSample),
		Channels:       orDefault(req.Channels, s.pcm.Channels),
		Language:       req.Language,
	}, s.transcriber)
	if err != nil {
		s.bus.Publish(bus.Event{Type: bus.EventTypeTranscribeFailed, Data: map[string]any{"language": req.Language, "error": err.Error()}})
		s.bus.Publish(bus.Event{Type: bus.EventTypeTimingFailed, Data: map[string]any{"algorithm": "precise"}})
		return lipsync.WordTiming{}, &requestError{status: http.StatusBadGateway, err: err}
	}

	s.bus.Publish(bus.Event{Type: bus.EventTypeTranscribed, Data: map[string]any{"language": req.Language}})
	s.publishTiming("precise", timing)
	return timing, nil
}

func (s *Server) alignment(req AlignmentRequest) lipsync.WordTiming {
	var timing lipsync.WordTiming
	if a := lipsync.SelectAlignment(req.Alignment, req.NormalizedAlignment); a != nil {
		timing = s.engine.FromAlignment(*a)
	} else {
		timing = s.engine.FromAlignment(lipsync.AlignmentInfo{})
	}
	s.publishTiming("alignment", timing)
	return timing
}

func (s *Server) visemes(req VisemeRequest) VisemeResponse {
	seg := s.segmenter.Segment(req.Text, req.Language)

	resp := VisemeResponse{Timing: seg.Timing, Language: seg.Language, Fallback: seg.Fallback}
	if s.unitMs > 0 {
		resp.Timing = seg.Scale(s.unitMs)
		resp.UnitMs = s.unitMs
	}

	s.bus.Publish(bus.Event{
		Type: bus.EventTypeVisemesSegmented,
		Data: map[string]any{
			"language": seg.Language,
			"fallback": seg.Fallback,
			"visemes":  seg.Len(),
		},
	})
	return resp
}

func (s *Server) speech(ctx context.Context, req tts.SpeechRequest) (tts.LipSyncAudioWire, error) {
	if s.speaker == nil {
		return tts.LipSyncAudioWire{}, &requestError{status: http.StatusServiceUnavailable, err: errors.New("speech synthesis not configured")}
	}

	out, err := s.speaker.SpeakWithTimestamps(ctx, req)
	switch {
	case errors.Is(err, tts.ErrEmptyText), errors.Is(err, tts.ErrNoVoice):
		return tts.LipSyncAudioWire{}, &requestError{status: http.StatusBadRequest, err: err}
	case errors.Is(err, tts.ErrMissingAPIKey):
		return tts.LipSyncAudioWire{}, &requestError{status: http.StatusServiceUnavailable, err: err}
	case err != nil:
		return tts.LipSyncAudioWire{}, &requestError{status: http.StatusBadGateway, err: err}
	}

	audioBytes := 0
	for _, chunk := range out.Audio {
		audioBytes += len(chunk)
	}
	s.bus.Publish(bus.Event{
		Type: bus.EventTypeSpeechSynthesized,
		Data: map[string]any{"words": out.Len(), "audioBytes": audioBytes},
	})
	s.publishTiming("alignment", out.WordTiming)
	return out.Wire(), nil
}

// decodeBody reads a JSON POST body into v.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("requestId", RequestIDFrom(r.Context())).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func (s *Server) approximateHandler(w http.ResponseWriter, r *http.Request) {
	var req ApproximateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	timing, err := s.approximate(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timing)
}

func (s *Server) preciseHandler(w http.ResponseWriter, r *http.Request) {
	var req PreciseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	timing, err := s.precise(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timing)
}

func (s *Server) alignmentHandler(w http.ResponseWriter, r *http.Request) {
	var req AlignmentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.alignment(req))
}

func (s *Server) visemesHandler(w http.ResponseWriter, r *http.Request) {
	var req VisemeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.visemes(req))
}

func (s *Server) speechHandler(w http.ResponseWriter, r *http.Request) {
	var req tts.SpeechRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	out, err := s.speech(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) wavHandler(w http.ResponseWriter, r *http.Request) {
	var req WavRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	pcm, err := decodeAudio(req.AudioBase64)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	file := wav.Encode(pcm,
		orDefault(req.SampleRate, s.pcm.SampleRate),
		orDefault(req.Channels, s.pcm.Channels),
		orDefault(req.BytesPerSample, s.pcm.BytesPerSample))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(file)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file)
}
