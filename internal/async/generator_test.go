package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	g := Sequence(1, 2)

	v, done, err := g.Next()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, v)

	v, done, _ = g.Next()
	assert.False(t, done)
	assert.Equal(t, 2, v)

	v, done, _ = g.Next()
	assert.True(t, done)
	assert.Nil(t, v)
}

func TestSequence_Return(t *testing.T) {
	g := Sequence(1, 2, 3)
	g.Next()
	g.Return()

	_, done, _ := g.Next()
	assert.True(t, done)
}

func TestFunc_ReturnOnce(t *testing.T) {
	returns := 0
	n := 0
	g := Func(func() (any, bool, error) {
		n++
		return n, false, nil
	}, func() { returns++ })

	v, _, _ := g.Next()
	assert.Equal(t, 1, v)
	g.Return()
	g.Return()
	assert.Equal(t, 1, returns)
}

func TestFromChannel(t *testing.T) {
	ch := make(chan string, 2)
	ch <- "a"
	close(ch)
	g := FromChannel(ch)

	step, done, err := g.Next()
	require.NoError(t, err)
	assert.False(t, done)
	v, err := step.(*Deferred).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	step, _, _ = g.Next()
	_, err = step.(*Deferred).Await(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestFromChannel_Return(t *testing.T) {
	g := FromChannel(make(chan int))

	step, _, _ := g.Next()
	g.Return()
	g.Return()

	_, err := step.(*Deferred).Await(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}
