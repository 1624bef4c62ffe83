package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/chanterlabs/chanter/internal/bus"
	"github.com/chanterlabs/chanter/internal/protocol"
)

// BusNotifier publishes notifications as JSON messages so external front ends
// can follow a job. Publish failures are logged and dropped; the bus is an
// observer, not a dependency of the pipeline.
type BusNotifier struct {
	bus *bus.Client
	log *slog.Logger
	now func() time.Time
}

// NewBus returns a bus-backed sink.
func NewBus(client *bus.Client, log *slog.Logger) *BusNotifier {
	return &BusNotifier{
		bus: client,
		log: log.With(slog.String("component", "notify-bus")),
		now: time.Now,
	}
}

func (b *BusNotifier) Progress(percent float64) {
	b.publish(protocol.SubjectProgress, protocol.Progress{Percent: percent, Timestamp: b.now().UTC()})
}

func (b *BusNotifier) Error(message string) {
	b.publish(protocol.SubjectError, protocol.JobError{Message: message, Timestamp: b.now().UTC()})
}

func (b *BusNotifier) PlaybackState(playing bool) {
	b.publish(protocol.SubjectPlayback, protocol.PlaybackState{Playing: playing, Timestamp: b.now().UTC()})
}

func (b *BusNotifier) Finished() {
	b.publish(protocol.SubjectDone, protocol.JobDone{Timestamp: b.now().UTC()})
}

func (b *BusNotifier) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("failed to marshal notification", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(subject, data); err != nil {
		b.log.Warn("failed to publish notification", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
