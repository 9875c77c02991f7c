package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe("dataset.published", 1)
	defer unsubscribe()

	n := bus.Publish("dataset.published", "payload", 100*time.Millisecond)
	assert.Equal(t, 1, n)

	select {
	case event := <-ch:
		assert.Equal(t, "dataset.published", event.Topic)
		assert.Equal(t, "payload", event.Data)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestWildcardRouting(t *testing.T) {
	bus := New()
	all, unsubAll := bus.Subscribe("*", 4)
	defer unsubAll()
	datasets, unsubDatasets := bus.Subscribe("dataset.*", 4)
	defer unsubDatasets()

	bus.Publish("dataset.deleted", 1, 0)
	bus.Publish("aton.saved", 2, 0)

	assert.Len(t, all, 2)
	require.Len(t, datasets, 1)
	assert.Equal(t, "dataset.deleted", (<-datasets).Topic)
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := New()
	_, unsubscribe := bus.Subscribe("aton.saved", 1)
	defer unsubscribe()

	assert.Equal(t, 1, bus.Publish("aton.saved", 1, 10*time.Millisecond))
	assert.Equal(t, 0, bus.Publish("aton.saved", 2, 10*time.Millisecond))
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe("dataset.published", 1)
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Publish("dataset.published", 1, 0))
}

func TestShutdown(t *testing.T) {
	bus := New()
	ch1, _ := bus.Subscribe("a", 1)
	ch2, _ := bus.Subscribe("b.*", 1)
	bus.Shutdown()

	for _, ch := range []<-chan Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}
	late, _ := bus.Subscribe("a", 1)
	_, ok := <-late
	assert.False(t, ok)
}

func TestConcurrentPublish(t *testing.T) {
	bus := New()
	ch, unsubscribe := bus.Subscribe("aton.*", 100)
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus.Publish("aton.saved", i, time.Second)
		}(i)
	}
	wg.Wait()
	assert.Len(t, ch, 10)
}

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "dataset.published", true},
		{"dataset.*", "dataset.published", true},
		{"dataset.*", "dataset", false},
		{"*.deleted", "aton.deleted", true},
		{"aton.saved", "aton.deleted", false},
		{"", "aton.saved", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchTopic(c.pattern, c.topic), "%s vs %s", c.pattern, c.topic)
	}
}
