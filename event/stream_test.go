package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribePublishPrefixMatch(t *testing.T) {
	t.Parallel()
	s := New()
	sub := s.Subscribe("step:")
	defer s.Unsubscribe(sub)

	s.Publish(Event{Type: "run:start"})
	s.Publish(Event{Type: "step:pass", Payload: map[string]interface{}{"index": float64(1)}})

	got := <-sub.C()
	assert.Equal(t, "step:pass", got.Type)
	assert.Equal(t, float64(1), got.Payload["index"])
}

func TestSubscribeEmptyPrefixMatchesEverything(t *testing.T) {
	t.Parallel()
	s := New()
	sub := s.Subscribe("")
	defer s.Unsubscribe(sub)

	s.Publish(Event{Type: "anything"})
	got := <-sub.C()
	assert.Equal(t, "anything", got.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	s := New()
	sub := s.Subscribe("")
	s.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestDropOldestOverflow(t *testing.T) {
	t.Parallel()
	s := New()
	sub := s.Subscribe("")
	defer s.Unsubscribe(sub)

	for i := 0; i < defaultQueueSize+5; i++ {
		s.Publish(Event{Type: "fill"})
	}

	// Drain the full queue so the pending drop notice (flushed ahead of
	// the next publish) has room to land.
	for i := 0; i < defaultQueueSize; i++ {
		<-sub.C()
	}

	s.Publish(Event{Type: "after-overflow"})

	notice := <-sub.C()
	require.Equal(t, "stream:dropped", notice.Type)
	assert.EqualValues(t, 5, notice.Payload["count"])

	next := <-sub.C()
	assert.Equal(t, "after-overflow", next.Type)
}
