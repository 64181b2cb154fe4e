package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/budget-api/internal/events"
)

type stubStore struct {
	inserted []events.Event
	err      error
}

func (s *stubStore) InsertEvent(_ context.Context, ev events.Event) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

func TestPublishPersistsThenNotifies(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}, Now: func() time.Time { return fixed }}

	ev, err := bus.Publish(context.Background(), events.TopicQuoteItemAdded, "q-1", map[string]any{"quantity": 2})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, ev.ID, notifier.events[0].ID)
	require.Equal(t, fixed, ev.OccurredAt)
	require.JSONEq(t, `{"quantity":2}`, string(store.inserted[0].Payload))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &decoded))
	require.EqualValues(t, 2, decoded["quantity"])
}

func TestPublishStopsWhenStoreFails(t *testing.T) {
	notifier := &captureNotifier{}
	bus := events.Bus{Store: &stubStore{err: errors.New("db down")}, Notifiers: []events.Notifier{notifier}}
	err := bus.Emit(context.Background(), events.TopicQuoteApproved, "q-1", nil)
	require.Error(t, err)
	require.Empty(t, notifier.events)
}

func TestPublishJoinsNotifierErrors(t *testing.T) {
	failing := &captureNotifier{err: errors.New("queue down")}
	ok := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{failing, nil, ok}}

	err := bus.Emit(context.Background(), events.TopicQuoteCreated, "q-1", `{"a":1}`)
	require.ErrorContains(t, err, "queue down")
	require.Len(t, ok.events, 1)
}

func TestPublishValidatesInput(t *testing.T) {
	bus := events.Bus{}
	ctx := context.Background()
	require.Error(t, bus.Emit(ctx, " ", "q-1", nil))
	require.Error(t, bus.Emit(ctx, events.TopicQuoteCreated, "", nil))
	require.Error(t, bus.Emit(ctx, events.TopicQuoteCreated, "q-1", "{not json"))
	require.True(t, events.KnownTopic(events.TopicQuoteRecalculated))
	require.False(t, events.KnownTopic("order.created"))
}
