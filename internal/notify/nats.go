package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subjects follow the pattern pool.events.{kind}.
const (
	SubjectPositionIncreased  = "pool.events.position_increased"
	SubjectPositionDecreased  = "pool.events.position_decreased"
	SubjectPositionLiquidated = "pool.events.position_liquidated"
	SubjectSwapped            = "pool.events.swapped"
)

// NATSHook publishes engine notifications to JetStream for downstream
// reward/referral consumers. Publish failures are logged and dropped;
// consumers needing a complete record should read the query surface.
type NATSHook struct {
	js      jetstream.JetStream
	log     zerolog.Logger
	timeout time.Duration
}

// EnsureStream creates or updates the JetStream stream that captures all
// pool event subjects.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "POOL_EVENTS",
		Subjects:  []string{"pool.events.>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	})
	return err
}

func NewNATSHook(js jetstream.JetStream, log zerolog.Logger) *NATSHook {
	return &NATSHook{
		js:      js,
		log:     log,
		timeout: 2 * time.Second,
	}
}

func (h *NATSHook) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Str("subject", subject).Msg("marshal hook event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if _, err := h.js.Publish(ctx, subject, data); err != nil {
		h.log.Warn().Err(err).Str("subject", subject).Msg("hook publish failed")
	}
}

func (h *NATSHook) PositionIncreased(ev PositionEvent) {
	h.publish(SubjectPositionIncreased, ev)
}

func (h *NATSHook) PositionDecreased(ev PositionEvent) {
	h.publish(SubjectPositionDecreased, ev)
}

func (h *NATSHook) PositionLiquidated(ev PositionEvent) {
	h.publish(SubjectPositionLiquidated, ev)
}

func (h *NATSHook) Swapped(ev SwapEvent) {
	h.publish(SubjectSwapped, ev)
}
