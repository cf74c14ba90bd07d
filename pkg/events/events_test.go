package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
	"github.com/absmach/fedsim/pkg/events"
	"github.com/absmach/fedsim/pkg/mqtt"
	"github.com/absmach/fedsim/pkg/mqtt/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMQTTEmitter(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		desc   string
		prefix string
		event  events.Event
		topic  string
		err    error
	}{
		{
			desc:   "round completed",
			prefix: "lab",
			event:  events.Event{Kind: events.RoundCompleted, ExperimentID: "e1", Round: 3, Time: at},
			topic:  "lab/experiments/e1/round",
		},
		{
			desc:  "default prefix",
			event: events.Event{Kind: events.ExperimentFailed, ExperimentID: "e2", Error: "boom", Time: at},
			topic: "fedsim/experiments/e2/failed",
		},
		{
			desc:  "publish error",
			event: events.Event{Kind: events.ExperimentStarted, ExperimentID: "e3", Time: at},
			topic: "fedsim/experiments/e3/started",
			err:   errors.New("broker down"),
		},
	}

	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			t.Parallel()
			ps := new(mocks.PubSub)
			ps.On("Publish", mock.Anything, c.topic, c.event).Return(c.err)

			err := events.NewMQTTEmitter(ps, c.prefix).Emit(context.Background(), c.event)
			assert.Equal(t, c.err, err)
			ps.AssertExpectations(t)
		})
	}
}

func TestEmitStampsTime(t *testing.T) {
	t.Parallel()

	ps := new(mocks.PubSub)
	ps.On("Publish", mock.Anything, "fedsim/experiments/e1/completed", mock.MatchedBy(func(e events.Event) bool {
		return !e.Time.IsZero()
	})).Return(nil)

	err := events.NewMQTTEmitter(ps, "").Emit(context.Background(), events.Event{Kind: events.ExperimentCompleted, ExperimentID: "e1"})
	assert.NoError(t, err)
	ps.AssertExpectations(t)
}

func TestWatchTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fedsim/experiments/e1/#", events.WatchTopic("fedsim", "e1"))
	assert.Equal(t, "fedsim/experiments/+/#", events.WatchTopic("fedsim", ""))
	assert.NoError(t, events.NewNoop().Emit(context.Background(), events.Event{}))
}

func TestWatch(t *testing.T) {
	t.Parallel()

	var handler mqtt.Handler
	ps := new(mocks.PubSub)
	ps.On("Subscribe", mock.Anything, "lab/experiments/e1/#", mock.Anything).
		Run(func(args mock.Arguments) { handler = args.Get(2).(mqtt.Handler) }).
		Return(nil)

	var got []events.Event
	topic, err := events.Watch(context.Background(), ps, "lab", "e1", func(ev events.Event) error {
		got = append(got, ev)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "lab/experiments/e1/#", topic)
	require.NotNil(t, handler)

	want := events.Event{
		Kind:         events.RoundCompleted,
		ExperimentID: "e1",
		Round:        2,
		Metrics:      map[string]map[string]float64{"train": {"loss": 0.5}},
		Time:         time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(want)
	require.NoError(t, err)

	require.NoError(t, handler("lab/experiments/e1/round", payload))
	assert.ErrorIs(t, handler("lab/experiments/e1/round", []byte("{")), pkgerrors.ErrInvalidData)
	assert.Equal(t, []events.Event{want}, got)
	ps.AssertExpectations(t)
}

func TestWatchSubscribeError(t *testing.T) {
	t.Parallel()

	errBroker := errors.New("broker down")
	ps := new(mocks.PubSub)
	ps.On("Subscribe", mock.Anything, "fedsim/experiments/+/#", mock.Anything).Return(errBroker)

	_, err := events.Watch(context.Background(), ps, "", "", func(events.Event) error { return nil })
	assert.ErrorIs(t, err, errBroker)
}
