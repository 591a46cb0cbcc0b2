package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLamportClock(t *testing.T) {
	clock := NewLamportClock()

	require.NotNil(t, clock)
	assert.Equal(t, int64(0), clock.Current(), "Initial counter should be 0")
	assert.NotEmpty(t, clock.NodeID(), "NodeID should not be empty")
}

func TestRestoreLamportClock(t *testing.T) {
	tests := []struct {
		name        string
		nodeID      string
		counter     int64
		wantCounter int64
	}{
		{name: "restores saved state", nodeID: "device-1", counter: 42, wantCounter: 42},
		{name: "negative counter clamps to zero", nodeID: "device-1", counter: -5, wantCounter: 0},
		{name: "empty node id generates one", nodeID: "", counter: 3, wantCounter: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := RestoreLamportClock(tt.nodeID, tt.counter)
			assert.Equal(t, tt.wantCounter, clock.Current())
			if tt.nodeID != "" {
				assert.Equal(t, tt.nodeID, clock.NodeID())
			} else {
				assert.NotEmpty(t, clock.NodeID())
			}
		})
	}
}

func TestLamportClock_Tick(t *testing.T) {
	clock := RestoreLamportClock("node", 10)

	assert.Equal(t, int64(11), clock.Tick())
	assert.Equal(t, int64(12), clock.Tick())
	assert.Equal(t, int64(12), clock.Current())
}

func TestLamportClock_Witness(t *testing.T) {
	tests := []struct {
		name     string
		start    int64
		remote   int64
		expected int64
	}{
		{name: "remote ahead", start: 5, remote: 10, expected: 11},
		{name: "remote behind", start: 10, remote: 5, expected: 11},
		{name: "remote equal", start: 7, remote: 7, expected: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := RestoreLamportClock("node", tt.start)
			assert.Equal(t, tt.expected, clock.Witness(tt.remote))
		})
	}
}

func TestLamportClock_Concurrent(t *testing.T) {
	clock := NewLamportClock()

	const goroutines = 10
	const ticks = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < ticks; j++ {
				clock.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*ticks), clock.Current())
}
