package testutil

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_RecordsInOrder(t *testing.T) {
	r := NewRecorder[int]()
	r.Record(1)
	r.Record(2)
	r.Record(3)

	assert.Equal(t, []int{1, 2, 3}, r.Items())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"1", "2", "3"}, Map(r, strconv.Itoa))
}

func TestRecorder_Reset(t *testing.T) {
	r := NewRecorder[string]()
	r.Record("a")
	r.Reset()

	assert.Empty(t, r.Items())
	r.Record("b")
	assert.Equal(t, []string{"b"}, r.Items())
}

func TestRecorder_ItemsIsACopy(t *testing.T) {
	r := NewRecorder[int]()
	r.Record(1)

	items := r.Items()
	items[0] = 99
	assert.Equal(t, []int{1}, r.Items())
}

func TestRecorder_ThreadSafe(t *testing.T) {
	r := NewRecorder[int]()
	const numGoroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(base int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				r.Record(base*perGoroutine + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*perGoroutine, r.Len())
}
