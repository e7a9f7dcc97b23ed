package lipsync

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/lipsync/internal/wav"
)

func TestApproximate_Empty(t *testing.T) {
	tests := []struct {
		name       string
		samples    []byte
		transcript string
		rate       int
	}{
		{"empty buffer and text", nil, "", 16000},
		{"whitespace only", make([]byte, 3200), "  \t\n ", 16000},
		{"zero sample rate", make([]byte, 3200), "ahoj svete", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Approximate(tt.samples, tt.transcript, tt.rate, 2)

			assert.Equal(t, []string{}, got.Words)
			assert.Equal(t, []float64{}, got.StartsMs)
			assert.Equal(t, []float64{}, got.DurationsMs)
		})
	}
}

func TestApproximate_Distribution(t *testing.T) {
	// 2 seconds of 16 kHz 16-bit mono audio, two 5-letter words.
	samples := make([]byte, 64000)

	got := Approximate(samples, "hello world", 16000, 2)

	require.NoError(t, got.Validate())
	assert.Equal(t, []string{"hello", "world"}, got.Words)
	assert.InDeltaSlice(t, []float64{0, 1000}, got.StartsMs, 1e-9)
	assert.InDeltaSlice(t, []float64{1000, 1000}, got.DurationsMs, 1e-9)
}

func TestApproximate_DiscardsEmptyTokens(t *testing.T) {
	got := Approximate(make([]byte, 64000), "  hello \n\n world  ", 16000, 2)

	assert.Equal(t, []string{"hello", "world"}, got.Words)
	assert.InDelta(t, 1000, got.DurationsMs[0], 1e-9)
}

func TestApproximate_DurationFloor(t *testing.T) {
	// 100 ms of audio spread over many one-letter words.
	got := Approximate(make([]byte, 3200), "a b c d e f g", 16000, 2)

	require.NoError(t, got.Validate())
	for i, d := range got.DurationsMs {
		assert.GreaterOrEqual(t, d, 200.0, "word %d", i)
	}
	assert.InDelta(t, 1200, got.StartsMs[6], 1e-9)
}

func TestApproximate_CountsRunesNotBytes(t *testing.T) {
	// "čaj" is 3 runes but 4 bytes; avg = 10000 ms for a single word.
	got := Approximate(make([]byte, 320000), "čaj", 16000, 2)

	assert.InDelta(t, 10000*3/5.0, got.DurationsMs[0], 1e-9)
}

func TestApproximate_DefaultBytesPerSample(t *testing.T) {
	a := Approximate(make([]byte, 64000), "hello world", 16000, 0)
	b := Approximate(make([]byte, 64000), "hello world", 16000, 2)

	assert.Equal(t, b, a)
}

func TestEngine_CustomOptions(t *testing.T) {
	e := NewEngine(Options{MinWordDurationMs: 50, ReferenceWordLength: 2}, zerolog.Nop())

	got := e.Approximate(make([]byte, 3200), "a b", 16000, 2)

	// avg = 50 ms, word length 1 -> 25 ms, floored to 50.
	assert.InDeltaSlice(t, []float64{50, 50}, got.DurationsMs, 1e-9)
}

func TestNewEngine_ZeroOptionsUseDefaults(t *testing.T) {
	e := NewEngine(Options{}, zerolog.Nop())

	assert.Equal(t, DefaultOptions(), e.Options())
}

func TestPrecise_ConvertsSecondsToMs(t *testing.T) {
	var gotFile []byte
	var gotLang string
	tr := TranscriberFunc(func(ctx context.Context, file []byte, language string) ([]TimestampedWord, error) {
		gotFile = file
		gotLang = language
		return []TimestampedWord{
			{Word: "ahoj", Start: 0.1, End: 0.5},
			{Word: "světe", Start: 0.6, End: 1.25},
		}, nil
	})

	samples := []byte{1, 2, 3, 4}
	got, err := Precise(context.Background(), PreciseRequest{
		Samples:        samples,
		SampleRate:     24000,
		BytesPerSample: 2,
		Channels:       1,
		Language:       "cs",
	}, tr)
	require.NoError(t, err)
	require.NoError(t, got.Validate())

	assert.Equal(t, "cs", gotLang)
	c, err := wav.Decode(gotFile)
	require.NoError(t, err)
	assert.Equal(t, samples, c.Payload)
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(gotFile[24:28]))

	assert.Equal(t, []string{"ahoj", "světe"}, got.Words)
	assert.InDeltaSlice(t, []float64{100, 600}, got.StartsMs, 1e-9)
	assert.InDeltaSlice(t, []float64{400, 650}, got.DurationsMs, 1e-9)
}

func TestPrecise_NoWordsIsNotAnError(t *testing.T) {
	tr := TranscriberFunc(func(ctx context.Context, file []byte, language string) ([]TimestampedWord, error) {
		return nil, nil
	})

	got, err := Precise(context.Background(), PreciseRequest{SampleRate: 16000}, tr)

	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.NotNil(t, got.Words)
}

func TestPrecise_PropagatesTranscriberError(t *testing.T) {
	boom := errors.New("unauthorized")
	calls := 0
	tr := TranscriberFunc(func(ctx context.Context, file []byte, language string) ([]TimestampedWord, error) {
		calls++
		return nil, boom
	})

	_, err := Precise(context.Background(), PreciseRequest{SampleRate: 16000}, tr)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "no retry")
}

func TestPrecise_NilTranscriber(t *testing.T) {
	_, err := Precise(context.Background(), PreciseRequest{}, nil)

	assert.ErrorIs(t, err, ErrNoTranscriber)
}

func TestFromAlignment_TwoWords(t *testing.T) {
	a := AlignmentInfo{
		Characters:         []string{"H", "I", " ", "T", "H", "E", "R", "E"},
		CharacterStartsSec: []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7},
		CharacterEndsSec:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
	}

	got := FromAlignment(a)

	require.NoError(t, got.Validate())
	assert.Equal(t, []string{"HI", "THERE"}, got.Words)
	assert.InDeltaSlice(t, []float64{0, 300}, got.StartsMs, 1e-9)
	assert.InDeltaSlice(t, []float64{200, 500}, got.DurationsMs, 1e-9)
}

func TestFromAlignment_CollapsesSpaces(t *testing.T) {
	a := AlignmentInfo{
		Characters:         []string{" ", "A", " ", " ", " ", "B", " "},
		CharacterStartsSec: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		CharacterEndsSec:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7},
	}

	got := FromAlignment(a)

	assert.Equal(t, []string{"A", "B"}, got.Words)
	assert.InDeltaSlice(t, []float64{100, 500}, got.StartsMs, 1e-9)
}

func TestFromAlignment_MissingTimesDefaultToZero(t *testing.T) {
	a := AlignmentInfo{
		Characters:         []string{"O", "K"},
		CharacterStartsSec: []float64{0.5},
	}

	got := FromAlignment(a)

	require.Equal(t, []string{"OK"}, got.Words)
	assert.InDelta(t, 500, got.StartsMs[0], 1e-9)
	assert.GreaterOrEqual(t, got.DurationsMs[0], 0.0)
}

func TestFromAlignment_Empty(t *testing.T) {
	got := FromAlignment(AlignmentInfo{})

	assert.Equal(t, 0, got.Len())
	assert.NoError(t, got.Validate())
}

func TestSelectAlignment(t *testing.T) {
	raw := &AlignmentInfo{Characters: []string{"a"}}
	norm := &AlignmentInfo{Characters: []string{"b"}}

	assert.Same(t, raw, SelectAlignment(raw, norm))
	assert.Same(t, norm, SelectAlignment(nil, norm))
	assert.Nil(t, SelectAlignment(nil, nil))
}

func TestWordTiming_Validate(t *testing.T) {
	tests := []struct {
		name    string
		timing  WordTiming
		wantErr error
	}{
		{"ok", WordTiming{[]string{"a", "b"}, []float64{0, 10}, []float64{10, 5}}, nil},
		{"length mismatch", WordTiming{[]string{"a"}, []float64{0, 1}, []float64{1}}, ErrLengthMismatch},
		{"negative", WordTiming{[]string{"a"}, []float64{0}, []float64{-1}}, ErrNegativeDuration},
		{"decreasing", WordTiming{[]string{"a", "b"}, []float64{10, 5}, []float64{1, 1}}, ErrStartsDecrease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.timing.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestWordTiming_End(t *testing.T) {
	w := WordTiming{[]string{"a", "b"}, []float64{0, 100}, []float64{100, 250}}

	assert.InDelta(t, 350, w.End(), 1e-9)
	assert.Equal(t, 0.0, WordTiming{}.End())
}

func TestPrimaryLanguage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cs", "cs"},
		{"cs-CZ", "cs"},
		{"SK_sk", "sk"},
		{" en-US ", "en"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, PrimaryLanguage(tt.in))
		})
	}
}
