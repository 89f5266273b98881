package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client, testLogger()), mr
}

func TestPublishRecordsTimestamp(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	before, err := bus.LastPublished(ctx, TopicIntentRefresh)
	require.NoError(t, err)
	require.True(t, before.IsZero())

	bus.Publish(ctx, TopicIntentRefresh)

	after, err := bus.LastPublished(ctx, TopicIntentRefresh)
	require.NoError(t, err)
	require.False(t, after.IsZero())
	require.WithinDuration(t, time.Now(), after, 5*time.Second)
}

func TestLocalSubscriberReceivesFanOut(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	var got []Topic
	unsub := bus.Subscribe(TopicUpcomingDeliveryRefresh, func(ev Event) {
		got = append(got, ev.Topic)
	})
	bus.Subscribe(TopicIntentRefresh, func(ev Event) {
		got = append(got, ev.Topic)
	})

	bus.Publish(ctx, TopicUpcomingDeliveryRefresh, TopicIntentRefresh)
	require.ElementsMatch(t, []Topic{TopicUpcomingDeliveryRefresh, TopicIntentRefresh}, got)

	unsub()
	bus.Publish(ctx, TopicUpcomingDeliveryRefresh)
	require.Len(t, got, 2)
}

func TestCrossProcessDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	busA := NewBus(clientA, testLogger())
	busB := NewBus(clientB, testLogger())

	received := make(chan Event, 1)
	busB.Subscribe(TopicSiteTransferRefresh, func(ev Event) {
		received <- ev
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = busB.Run(ctx) }()

	// Give the subscriber loop a moment to attach.
	time.Sleep(50 * time.Millisecond)

	busA.Publish(ctx, TopicSiteTransferRefresh)

	select {
	case ev := <-received:
		require.Equal(t, TopicSiteTransferRefresh, ev.Topic)
		require.NotZero(t, ev.TS)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered across bus instances")
	}
}

func TestPublishSurvivesRedisOutage(t *testing.T) {
	bus, mr := testBus(t)
	ctx := context.Background()

	var fired bool
	bus.Subscribe(TopicDeliveryRefresh, func(Event) { fired = true })

	mr.Close()

	// Must not panic or return an error; local subscribers still fire.
	bus.Publish(ctx, TopicDeliveryRefresh)
	require.True(t, fired)
}

func TestUnknownTopicIgnored(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	bus.Publish(ctx, Topic("bogus"))

	last, err := bus.LastPublished(ctx, Topic("bogus"))
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestNamedHandlerFuncSubscribes(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	var got []Topic
	var record HandlerFunc = func(ev Event) { got = append(got, ev.Topic) }
	unsub := bus.Subscribe(TopicDeliveryRefresh, record)
	defer unsub()

	bus.Publish(ctx, TopicDeliveryRefresh)
	require.Equal(t, []Topic{TopicDeliveryRefresh}, got)
}

func TestHandlerPanicContained(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	var after bool
	bus.Subscribe(TopicIntentRefresh, func(Event) { panic("boom") })
	bus.Subscribe(TopicIntentRefresh, func(Event) { after = true })

	require.NotPanics(t, func() { bus.Publish(ctx, TopicIntentRefresh) })
	require.True(t, after)
}
