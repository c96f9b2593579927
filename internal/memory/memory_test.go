package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/safeguard/internal/detection"
)

func msg(i int) detection.Message {
	return detection.Message{Text: fmt.Sprintf("m%d", i), Direction: detection.DirectionReceived}
}

func TestAppendEvictsOldest(t *testing.T) {
	m := New(20)
	for i := 1; i <= 21; i++ {
		m.Append(msg(i))
	}
	require.Equal(t, 20, m.Len())
	all := m.All()
	assert.Equal(t, "m2", all[0].Text)
	assert.Equal(t, "m21", all[19].Text)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, fmt.Sprintf("m%d", i+2), all[i].Text)
	}
}

func TestLast(t *testing.T) {
	m := New(0)
	assert.Equal(t, DefaultCapacity, m.Capacity())
	for i := 1; i <= 5; i++ {
		m.Append(msg(i))
	}
	last := m.Last(3)
	require.Len(t, last, 3)
	assert.Equal(t, []string{"m3", "m4", "m5"}, []string{last[0].Text, last[1].Text, last[2].Text})
	assert.Len(t, m.Last(10), 5)
	assert.Empty(t, m.Last(0))
}

func TestLastReturnsCopy(t *testing.T) {
	m := New(3)
	m.Append(msg(1))
	got := m.All()
	got[0].Text = "changed"
	assert.Equal(t, "m1", m.All()[0].Text)
}

func TestClear(t *testing.T) {
	m := New(3)
	m.Append(msg(1))
	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.All())
}

func TestConcurrentAppendStaysBounded(t *testing.T) {
	m := New(20)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m.Append(msg(g*100 + i))
				_ = m.Last(5)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 20, m.Len())
}
