package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsLifecycle(t *testing.T) {
	s := New()
	main := s.AllocConn(2, false)
	media := s.AllocConn(4, true)
	main.SetState(Connected)
	main.AddRequest(false)
	main.AddRequest(true)
	main.SetRTT(30 * time.Millisecond)
	media.SetState(Handshaking)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, 2, snap[0].DC)
	assert.Equal(t, uint64(2), snap[0].Requests)
	assert.Equal(t, uint64(1), snap[0].Failures)
	assert.Equal(t, Handshaking, snap[1].State)
	assert.True(t, snap[1].Exported)

	out := s.AsString()
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "dc2 main: connected, requests 2, failures 1, rtt 30ms")
	assert.Contains(t, out, "connected: 1")

	media.Close()
	main.Close()
	assert.Empty(t, s.Snapshot())
}
