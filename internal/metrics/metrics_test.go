package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/normanking/lipsync/internal/bus"
)

func TestSubscribe_CountsDomainEvents(t *testing.T) {
	m := New(prometheus.NewRegistry())
	b := bus.NewEventBus()
	m.Subscribe(b)

	b.PublishSync(bus.Event{Type: bus.EventTypeTimingDerived, Data: map[string]any{"algorithm": "alignment", "words": 4}})
	b.PublishSync(bus.Event{Type: bus.EventTypeTimingDerived, Data: map[string]any{"algorithm": "alignment", "words": 2}})
	b.PublishSync(bus.Event{Type: bus.EventTypeTimingFailed, Data: map[string]any{"algorithm": "precise"}})
	b.PublishSync(bus.Event{Type: bus.EventTypeVisemesSegmented, Data: map[string]any{"language": "cs", "fallback": true, "visemes": 12}})
	b.PublishSync(bus.Event{Type: bus.EventTypeTranscribed})
	b.PublishSync(bus.Event{Type: bus.EventTypeTranscribeFailed})
	b.PublishSync(bus.Event{Type: bus.EventTypeSpeechSynthesized})
	b.PublishSync(bus.Event{Type: bus.EventTypeConfigReloaded})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Derivations.WithLabelValues("alignment")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DerivationFailures.WithLabelValues("precise")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Segmentations.WithLabelValues("cs", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriberCalls.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriberCalls.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpeechRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigReloads))
	assert.Equal(t, 1, testutil.CollectAndCount(m.VisemesPerText))
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

func TestNum(t *testing.T) {
	data := map[string]any{"i": 3, "l": int64(4), "f": 5.9, "s": "6"}

	assert.Equal(t, 3, num(data, "i"))
	assert.Equal(t, 4, num(data, "l"))
	assert.Equal(t, 5, num(data, "f"))
	assert.Equal(t, 0, num(data, "s"))
	assert.Equal(t, 0, num(data, "missing"))
}
