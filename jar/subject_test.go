package jar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvState(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
		return nil
	}
}

func TestStateSubjectReplaysLatest(t *testing.T) {
	s := NewStateSubject()
	s.Publish(1)
	s.Publish(2)

	ch, cancel := s.Subscribe()
	defer cancel()

	assert.Equal(t, 2, recvState(t, ch))

	s.Publish(3)
	assert.Equal(t, 3, recvState(t, ch))
}

func TestStateSubjectCoalescesForSlowSubscribers(t *testing.T) {
	s := NewStateSubject()
	ch, cancel := s.Subscribe()
	defer cancel()

	// Nobody reads while five states go by; the subscriber then sees
	// only the newest one.
	for i := 1; i <= 5; i++ {
		s.Publish(i)
	}
	assert.Equal(t, 5, recvState(t, ch))

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra state %v", v)
	default:
	}
}

func TestStateSubjectCancelAndClose(t *testing.T) {
	s := NewStateSubject()
	ch1, cancel1 := s.Subscribe()
	ch2, _ := s.Subscribe()
	require.Equal(t, 2, s.SubscriberCount())

	cancel1()
	assert.Equal(t, 1, s.SubscriberCount())
	_, open := <-ch1
	assert.False(t, open)

	s.Publish(7)
	assert.Equal(t, 7, recvState(t, ch2))

	s.Close()
	assert.Equal(t, 0, s.SubscriberCount())
	// Drain the buffered value, then observe the close.
	for v := range ch2 {
		_ = v
	}

	v, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}
