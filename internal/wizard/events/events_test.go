package events_test

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow-backend/internal/wizard/events"
	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/pkg/logger"
	"github.com/docflow/docflow-backend/pkg/messaging"
	"github.com/docflow/docflow-backend/pkg/testutil"
)

type registrar map[string]messaging.MessageHandler

func (r registrar) RegisterHandler(eventType string, h messaging.MessageHandler) {
	r[eventType] = h
}

func receive(t *testing.T, ch <-chan events.Message) events.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return events.Message{}
	}
}

func TestHub_PublishReachesOnlyTheSession(t *testing.T) {
	hub := events.NewHub()
	mine, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()
	other, unsubscribeOther := hub.Subscribe("s2")
	defer unsubscribeOther()

	assert.Equal(t, 1, hub.Publish("s1", events.Message{Type: events.TypeSessionReset}))
	assert.Equal(t, events.TypeSessionReset, receive(t, mine).Type)

	select {
	case msg := <-other:
		t.Fatalf("unexpected message %v", msg)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := events.NewHub()
	ch, unsubscribe := hub.Subscribe("s1")
	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers("s1"))
	assert.Zero(t, hub.Publish("s1", events.Message{Type: events.TypeSessionReset}))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := events.NewHub()
	_, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("s1", events.Message{Type: events.TypeHistoryChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBroadcaster_HistoryChanged(t *testing.T) {
	hub := events.NewHub()
	pub := testutil.NewMockPublisher()
	b := events.NewBroadcaster(hub, pub, "instance-a", logger.Nop())

	ch, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()

	b.HistoryChanged(context.Background(), history.Change{
		SessionID: "s1", Kind: history.ChangeRemoved, EntryIDs: []string{"e1"}, Count: 2,
	})

	msg := receive(t, ch)
	assert.Equal(t, events.TypeHistoryChanged, msg.Type)
	assert.Equal(t, events.HistoryPayload{Kind: history.ChangeRemoved, EntryIDs: []string{"e1"}, Count: 2}, msg.Data)

	pub.AssertEventPublished(t, messaging.EventHistoryRemoved)
	published := pub.Events()
	require.Len(t, published, 1)
	assert.Equal(t, messaging.EventHistoryRemoved, published[0].Type)
	assert.Equal(t, messaging.HistoryChangedEvent{SessionID: "s1", EntryIDs: []string{"e1"}, Origin: "instance-a", Count: 2}, published[0].Payload)
}

func TestBroadcaster_PublishFailureStillNotifiesLocally(t *testing.T) {
	hub := events.NewHub()
	pub := testutil.NewMockPublisher()
	pub.Err = errors.New("channel closed")
	b := events.NewBroadcaster(hub, pub, "instance-a", logger.Nop())

	ch, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()

	b.SessionReset(context.Background(), "s1")
	assert.Equal(t, events.TypeSessionReset, receive(t, ch).Type)
	pub.AssertNoEventsPublished(t)
}

func TestBroadcaster_WithoutBroker(t *testing.T) {
	hub := events.NewHub()
	b := events.NewBroadcaster(hub, nil, "solo", logger.Nop())

	ch, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()

	b.HistoryChanged(context.Background(), history.Change{SessionID: "s1", Kind: history.ChangeAppended, EntryIDs: []string{"e1"}, Count: 1})
	assert.Equal(t, events.TypeHistoryChanged, receive(t, ch).Type)
}

func remoteEvent(t *testing.T, eventType string, data interface{}) *messaging.Event {
	t.Helper()
	event, err := messaging.NewEvent(eventType, "wizard-service", "", data)
	require.NoError(t, err)
	return event
}

func TestBroadcaster_RelaysRemoteEvents(t *testing.T) {
	hub := events.NewHub()
	b := events.NewBroadcaster(hub, nil, "instance-a", logger.Nop())

	var resetSessions []string
	b.OnRemoteReset(func(id string) { resetSessions = append(resetSessions, id) })

	handlers := registrar{}
	b.Register(handlers)
	require.Len(t, handlers, 3)

	ch, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()
	ctx := context.Background()

	err := handlers[messaging.EventHistoryAppended](ctx, remoteEvent(t, messaging.EventHistoryAppended,
		messaging.HistoryChangedEvent{SessionID: "s1", EntryIDs: []string{"e9"}, Origin: "instance-b", Count: 4}))
	require.NoError(t, err)
	msg := receive(t, ch)
	assert.Equal(t, events.HistoryPayload{Kind: history.ChangeAppended, EntryIDs: []string{"e9"}, Count: 4}, msg.Data)

	err = handlers[messaging.EventSessionReset](ctx, remoteEvent(t, messaging.EventSessionReset,
		messaging.SessionResetEvent{SessionID: "s1", Origin: "instance-b"}))
	require.NoError(t, err)
	assert.Equal(t, events.TypeSessionReset, receive(t, ch).Type)
	assert.Equal(t, []string{"s1"}, resetSessions)
}

func TestBroadcaster_SkipsOwnEvents(t *testing.T) {
	hub := events.NewHub()
	b := events.NewBroadcaster(hub, nil, "instance-a", logger.Nop())
	b.OnRemoteReset(func(string) { t.Fatal("own reset must be ignored") })

	handlers := registrar{}
	b.Register(handlers)

	ch, unsubscribe := hub.Subscribe("s1")
	defer unsubscribe()
	ctx := context.Background()

	require.NoError(t, handlers[messaging.EventHistoryRemoved](ctx, remoteEvent(t, messaging.EventHistoryRemoved,
		messaging.HistoryChangedEvent{SessionID: "s1", Origin: "instance-a"})))
	require.NoError(t, handlers[messaging.EventSessionReset](ctx, remoteEvent(t, messaging.EventSessionReset,
		messaging.SessionResetEvent{SessionID: "s1", Origin: "instance-a"})))

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %v", msg)
	default:
	}
}

func TestBroadcaster_MalformedRemoteEvent(t *testing.T) {
	b := events.NewBroadcaster(events.NewHub(), nil, "instance-a", logger.Nop())
	handlers := registrar{}
	b.Register(handlers)

	err := handlers[messaging.EventHistoryAppended](context.Background(), &messaging.Event{Data: []byte(`[1,2]`)})
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	hub := events.NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w, err := events.NewSSEWriter(rw)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, hub.Stream(r.Context(), w, "s1", time.Hour))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		require.True(t, lines.Scan())
		return lines.Text()
	}

	assert.Equal(t, "event: ready", next())
	assert.Equal(t, `data: {"sessionId":"s1"}`, next())
	assert.Equal(t, "", next())

	require.Equal(t, 1, hub.Subscribers("s1"))
	hub.Publish("s1", events.Message{Type: events.TypeHistoryChanged, Data: events.HistoryPayload{Kind: history.ChangeAppended, EntryIDs: []string{"e1"}, Count: 1}})

	assert.Equal(t, "event: history", next())
	assert.Equal(t, `data: {"kind":"appended","entryIds":["e1"],"count":1}`, next())

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers("s1") == 0 }, time.Second, 5*time.Millisecond)
}
