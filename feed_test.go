package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_FanOut(t *testing.T) {
	f := NewFeed[int](2)
	a, b := f.Subscribe(), f.Subscribe()
	require.Equal(t, 2, f.Len())

	assert.Equal(t, 2, f.Send(1))
	assert.Equal(t, 1, <-a.C())
	assert.Equal(t, 1, <-b.C())
}

func TestFeed_SlowSubscriberDrops(t *testing.T) {
	f := NewFeed[int](1)
	slow := f.Subscribe()

	assert.Equal(t, 1, f.Send(1))
	assert.Equal(t, 0, f.Send(2), "full subscriber must not block Send")
	assert.Equal(t, 1, <-slow.C())
}

func TestFeed_Unsubscribe(t *testing.T) {
	f := NewFeed[string](1)
	s := f.Subscribe()
	s.Unsubscribe()
	s.Unsubscribe()

	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 0, f.Send("x"))
	_, ok := <-s.C()
	assert.False(t, ok)
}

func TestFeed_Close(t *testing.T) {
	f := NewFeed[int](0)
	s := f.Subscribe()
	f.Close()
	f.Close()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Equal(t, 0, f.Send(1))

	late := f.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
	late.Unsubscribe()
}
