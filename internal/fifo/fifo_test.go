package fifo_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"pipelined.dev/xap/internal/fifo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		size     int
		expected int
	}{
		{size: 0, expected: 1},
		{size: 1, expected: 1},
		{size: 3, expected: 4},
		{size: 128, expected: 128},
		{size: 129, expected: 256},
	}
	for _, test := range tests {
		q := fifo.New[int](test.size)
		assert.Equal(t, test.expected, q.Cap())
	}
}

func TestPushPop(t *testing.T) {
	q := fifo.New[int](4)
	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 0; i < 4; i++ {
		assert.True(t, q.Push(i))
	}
	assert.False(t, q.Push(4), "push into full queue")
	assert.Equal(t, 4, q.Len())

	for i := 0; i < 4; i++ {
		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())

	// wrap around
	for i := 0; i < 10; i++ {
		assert.True(t, q.Push(i))
		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestPeek(t *testing.T) {
	q := fifo.New[int](2)
	_, ok := q.Peek()
	assert.False(t, ok)
	q.Push(7)
	q.Push(8)
	v, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, q.Len())
	v, _ = q.Pop()
	assert.Equal(t, 7, v)
	v, _ = q.Peek()
	assert.Equal(t, 8, v)
}

func TestPopReleasesSlot(t *testing.T) {
	q := fifo.New[*int](2)
	v := 1
	q.Push(&v)
	p, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, &v, p)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestConcurrent(t *testing.T) {
	const n = 10000
	q := fifo.New[int](16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if q.Push(i) {
				i++
			}
		}
	}()

	received := make([]int, 0, n)
	for len(received) < n {
		if v, ok := q.Pop(); ok {
			received = append(received, v)
		}
	}
	wg.Wait()
	for i := range received {
		if received[i] != i {
			t.Fatalf("out of order value at %d: %d", i, received[i])
		}
	}
}
