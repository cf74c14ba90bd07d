// Package events publishes experiment lifecycle and round notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/mqtt"
)

const DefaultTopicPrefix = "fedsim"

type Kind string

const (
	ExperimentStarted   Kind = "started"
	RoundCompleted      Kind = "round"
	ExperimentCompleted Kind = "completed"
	ExperimentFailed    Kind = "failed"
	ExperimentStopped   Kind = "stopped"
)

type Event struct {
	Kind         Kind                          `json:"kind"`
	ExperimentID string                        `json:"experiment_id"`
	Round        int                           `json:"round"`
	Metrics      map[string]map[string]float64 `json:"metrics,omitempty"`
	Error        string                        `json:"error,omitempty"`
	Time         time.Time                     `json:"time"`
}

type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Topic is where events of kind for one experiment are published.
func Topic(prefix, experimentID string, kind Kind) string {
	return fmt.Sprintf("%s/experiments/%s/%s", prefix, experimentID, kind)
}

// WatchTopic matches every event of one experiment, or of all experiments
// when experimentID is empty.
func WatchTopic(prefix, experimentID string) string {
	if experimentID == "" {
		experimentID = "+"
	}

	return fmt.Sprintf("%s/experiments/%s/#", prefix, experimentID)
}

// Watch subscribes to the events of one experiment, or of all experiments
// when experimentID is empty, and passes each decoded event to fn. It returns
// the topic to unsubscribe from.
func Watch(ctx context.Context, ps mqtt.PubSub, prefix, experimentID string, fn func(Event) error) (string, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	topic := WatchTopic(prefix, experimentID)

	handler := func(_ string, payload []byte) error {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: malformed event: %w", pkgerrors.ErrInvalidData, err)
		}

		return fn(ev)
	}

	return topic, ps.Subscribe(ctx, topic, handler)
}

type mqttEmitter struct {
	pubsub mqtt.PubSub
	prefix string
}

func NewMQTTEmitter(ps mqtt.PubSub, prefix string) Emitter {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}

	return &mqttEmitter{pubsub: ps, prefix: prefix}
}

func (e *mqttEmitter) Emit(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	return e.pubsub.Publish(ctx, Topic(e.prefix, ev.ExperimentID, ev.Kind), ev)
}

type noop struct{}

func NewNoop() Emitter {
	return noop{}
}

func (noop) Emit(context.Context, Event) error {
	return nil
}
