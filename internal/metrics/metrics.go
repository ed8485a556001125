// Package metrics is the anomaly/instability event sink the training manager
// and safety guard publish to. Publishing is fire-and-forget: a failing sink
// never affects serving or training.
package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// #region event

// EventType categorizes published anomalies.
type EventType string

const (
	EventSafetyViolation     EventType = "safety_violation"
	EventTrainingInstability EventType = "training_instability"
	EventRewardOutlier       EventType = "reward_outlier"
	EventActivationRejected  EventType = "activation_rejected"
	EventGenerationFallback  EventType = "generation_fallback"
)

// Event is one published anomaly record.
type Event struct {
	Type      EventType         `json:"type"`
	Component string            `json:"component"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// #endregion event

// #region sink

// Sink receives anomaly events. Implementations must not block the caller
// beyond the context deadline and must swallow their own failures.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// #endregion sink

// #region log-sink

// LogSink writes events to the structured log. The default sink.
type LogSink struct {
	Log *logrus.Entry
}

// Publish implements Sink.
func (s LogSink) Publish(ctx context.Context, ev Event) {
	fields := logrus.Fields{"event": string(ev.Type)}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	s.Log.WithFields(fields).Warn("anomaly event")
}

// #endregion log-sink

// #region redis-sink

// RedisSink publishes events to a redis channel for the external alerting
// layer. Publish errors are logged and dropped.
type RedisSink struct {
	Client  *redis.Client
	Channel string
	Log     *logrus.Entry
}

// Publish implements Sink.
func (s RedisSink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.Log.WithError(err).Warn("marshal anomaly event")
		return
	}
	if err := s.Client.Publish(ctx, s.Channel, payload).Err(); err != nil {
		s.Log.WithError(err).Warn("publish anomaly event")
	}
}

// #endregion redis-sink

// #region multi-sink

// Multi fans one event out to several sinks.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Publish(ctx, ev)
	}
}

// #endregion multi-sink

// #region helpers

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, component string, fields map[string]string) Event {
	return Event{Type: t, Component: component, Fields: fields, CreatedAt: time.Now().UTC()}
}

// #endregion helpers
