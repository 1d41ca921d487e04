package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"jobmate/admission-service/internal/admission"
)

// EventType is the type field of every published status event.
const EventType = "EVENT_APPLICATION_STATUS_CHANGED"

// Event is the JSON payload published for each status change.
type Event struct {
	Type          string    `json:"type"`
	ApplicationID string    `json:"applicationId"`
	JobID         string    `json:"jobId"`
	Recipient     string    `json:"recipient"`
	JobTitle      string    `json:"jobTitle"`
	Status        string    `json:"status"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	At            time.Time `json:"at"`
}

// BreakerSettings tunes the circuit breaker in front of Redis.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings trips after five straight failures and probes
// again after thirty seconds.
var DefaultBreakerSettings = BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}

// RedisNotifier publishes status events on a Redis channel. While Redis is
// failing the breaker short-circuits publishes so requests do not pile up
// behind a dead broker.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
	clock   clockwork.Clock
}

var _ admission.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier returns a notifier publishing on channel.
func NewRedisNotifier(rdb *redis.Client, channel string, bs BreakerSettings, clock clockwork.Clock) *RedisNotifier {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-notify",
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &RedisNotifier{rdb: rdb, channel: channel, cb: cb, clock: clock}
}

// Notify publishes one event. It fails fast with gobreaker.ErrOpenState while
// the breaker is open.
func (n *RedisNotifier) Notify(ctx context.Context, note admission.Notification) error {
	subj, body := Message(note.Status, note.JobTitle)
	payload, err := json.Marshal(Event{
		Type:          EventType,
		ApplicationID: note.ApplicationID.String(),
		JobID:         note.JobID.String(),
		Recipient:     note.Recipient,
		JobTitle:      note.JobTitle,
		Status:        string(note.Status),
		Subject:       subj,
		Body:          body,
		At:            n.clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventType, err)
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		return nil, n.rdb.Publish(ctx, n.channel, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventType, err)
	}
	return nil
}

// State reports the breaker state, for health output.
func (n *RedisNotifier) State() string { return n.cb.State().String() }
