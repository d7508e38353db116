package throttle_test

import (
	"testing"
	"time"

	"gotest.tools/assert"

	. "github.com/shelfdb/shelfdb/internal/throttle"
)

func testGate(ceiling int, window time.Duration) (*Gate, *time.Time) {
	gate := NewGate(ceiling, window)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	gate.SetClock(func() time.Time { return now })
	return gate, &now
}

func TestAllowUpToCeiling(t *testing.T) {
	gate, _ := testGate(10, time.Minute)

	for i := 0; i < 10; i++ {
		assert.Assert(t, gate.Allow("10.0.0.1"), "request %d", i+1)
	}
	assert.Assert(t, !gate.Allow("10.0.0.1"))
}

func TestClientsCountedSeparately(t *testing.T) {
	gate, _ := testGate(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.Assert(t, gate.Allow("10.0.0.1"))
	}
	assert.Assert(t, !gate.Allow("10.0.0.1"))
	assert.Assert(t, gate.Allow("10.0.0.2"))
}

func TestEntriesExpire(t *testing.T) {
	gate, now := testGate(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.Assert(t, gate.Allow("10.0.0.1"))
	}
	assert.Assert(t, !gate.Allow("10.0.0.1"))

	*now = now.Add(time.Minute + time.Second)
	assert.Assert(t, gate.Allow("10.0.0.1"))
}

func TestRejectionDoesNotConsume(t *testing.T) {
	gate, now := testGate(2, time.Minute)

	assert.Assert(t, gate.Allow("10.0.0.1"))
	*now = now.Add(30 * time.Second)
	assert.Assert(t, gate.Allow("10.0.0.1"))

	// hammering while blocked must not extend the block
	for i := 0; i < 5; i++ {
		assert.Assert(t, !gate.Allow("10.0.0.1"))
	}

	*now = now.Add(31 * time.Second)
	assert.Assert(t, gate.Allow("10.0.0.1"))
}

func TestZeroCeilingDisables(t *testing.T) {
	gate, _ := testGate(0, time.Minute)

	for i := 0; i < 100; i++ {
		assert.Assert(t, gate.Allow("10.0.0.1"))
	}
}
