package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/strata/internal/document"
)

func testDocs(n int) []document.Doc {
	out := make([]document.Doc, n)
	for i := range out {
		out[i] = document.Doc{"i": i}
	}
	return out
}

func TestRegisterNeverReturnsZero(t *testing.T) {
	m := NewCursorManager(0, nil)
	for i := 0; i < 100; i++ {
		if id := m.Register("c", nil); id == 0 {
			t.Fatal("Register returned cursor id 0")
		}
	}
}

func TestRegisterIDsAreUnique(t *testing.T) {
	m := NewCursorManager(0, nil)
	seen := map[int64]bool{}
	for i := 0; i < 50; i++ {
		id := m.Register("c", testDocs(1))
		if seen[id] {
			t.Fatalf("duplicate cursor id %d", id)
		}
		seen[id] = true
	}
}

func TestFetchDrainsInBatches(t *testing.T) {
	m := NewCursorManager(0, nil)
	id := m.Register("c", testDocs(5))

	batch, done, ok := m.Fetch(id, 2)
	require.True(t, ok)
	assert.False(t, done)
	assert.Len(t, batch, 2)

	batch, done, ok = m.Fetch(id, 2)
	require.True(t, ok)
	assert.False(t, done)
	assert.Len(t, batch, 2)

	batch, done, ok = m.Fetch(id, 2)
	require.True(t, ok)
	assert.True(t, done, "final batch closes the cursor")
	assert.Len(t, batch, 1)

	_, _, ok = m.Fetch(id, 2)
	assert.False(t, ok, "a drained cursor is gone")
}

func TestFetchUnlimited(t *testing.T) {
	m := NewCursorManager(0, nil)
	id := m.Register("c", testDocs(5))

	batch, done, ok := m.Fetch(id, 0)
	require.True(t, ok)
	assert.True(t, done)
	assert.Len(t, batch, 5)
}

func TestFetchEmptyCursor(t *testing.T) {
	// batchSize-0 aggregates register cursors over empty results too.
	m := NewCursorManager(0, nil)
	id := m.Register("c", nil)

	batch, done, ok := m.Fetch(id, 10)
	require.True(t, ok)
	assert.True(t, done)
	assert.Empty(t, batch)
}

func TestFetchUnknownID(t *testing.T) {
	m := NewCursorManager(0, nil)
	_, _, ok := m.Fetch(404, 10)
	assert.False(t, ok)
}

func TestKill(t *testing.T) {
	m := NewCursorManager(0, nil)
	id := m.Register("c", testDocs(3))

	assert.True(t, m.Kill(id))
	assert.False(t, m.Kill(id), "second kill is benign and reports not found")

	_, _, ok := m.Fetch(id, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Open())
}

func TestExpireIdle(t *testing.T) {
	m := NewCursorManager(time.Minute, nil)
	stale := m.Register("c", testDocs(3))
	fresh := m.Register("c", testDocs(3))

	// Touch one cursor so only the other goes stale.
	future := time.Now().Add(2 * time.Minute)
	m.Fetch(fresh, 1)
	m.mu.Lock()
	m.cursors[fresh].lastUsed = future
	m.mu.Unlock()

	m.expireIdle(future.Add(time.Second))

	_, _, ok := m.Fetch(stale, 1)
	assert.False(t, ok, "idle cursor should have been reclaimed")
	_, _, ok = m.Fetch(fresh, 1)
	assert.True(t, ok, "recently used cursor should survive")
}

func TestStartStop(t *testing.T) {
	m := NewCursorManager(time.Minute, nil)
	m.Start()
	m.Stop()

	// Stop without Start is a no-op.
	NewCursorManager(time.Minute, nil).Stop()
}
