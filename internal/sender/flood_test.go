package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgerr"
	"github.com/geovex/mtcore/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFloodDeadlineNeverMovesBack(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newFloodRegistry(clock.Now)

	long := f.record("messages.send", 60*time.Second)
	short := f.record("messages.send", 5*time.Second)
	assert.Equal(t, long, short)
	assert.Equal(t, 60*time.Second, f.remaining("messages.send"))

	clock.Advance(50 * time.Second)
	later := f.record("messages.send", 30*time.Second)
	assert.True(t, later.After(long))
	assert.Equal(t, 30*time.Second, f.remaining("messages.send"))

	clock.Advance(31 * time.Second)
	assert.Zero(t, f.remaining("messages.send"))
	assert.Zero(t, f.remaining("contacts.search"))
}

func TestFloodWait(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	f := newFloodRegistry(clock.Now)
	ctx := context.Background()

	require.NoError(t, f.wait(ctx, "a", time.Second))

	f.record("a", time.Minute)
	err := f.wait(ctx, "a", 10*time.Second)
	var fw *FloodWaitError
	require.ErrorAs(t, err, &fw)
	assert.Equal(t, "a", fw.Type)
	assert.Equal(t, time.Minute, fw.Wait)
	assert.Equal(t, tgerr.Flood, fw.Category())
	assert.Equal(t, 420, fw.Code())

	// within the threshold the remaining time is slept out
	clock.Advance(time.Minute - 20*time.Millisecond)
	start := time.Now()
	require.NoError(t, f.wait(ctx, "a", 10*time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	f.record("b", 5*time.Second)
	assert.ErrorIs(t, f.wait(cctx, "b", 10*time.Second), context.Canceled)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want tgerr.Category
	}{
		{tgerr.New(420, "FLOOD_WAIT_3"), tgerr.Flood},
		{tgerr.New(303, "NETWORK_MIGRATE_1"), tgerr.Migrate},
		{fmt.Errorf("call: %w", tgerr.New(500, "RPC_CALL_FAIL")), tgerr.Transient},
		{tgerr.New(400, "MESSAGE_EMPTY"), tgerr.Fatal},
		{fmt.Errorf("%w: %w", ErrAuthKeyDropped, &transport.ProtocolError{Code: -404}), tgerr.AuthKey},
		{fmt.Errorf("%w: message key mismatch", proto.ErrIntegrity), tgerr.Integrity},
		{fmt.Errorf("%w: EOF", transport.ErrConnectionLost), tgerr.Transport},
		{&transport.ProtocolError{Code: -429}, tgerr.Transport},
		{context.DeadlineExceeded, tgerr.Transport},
		{fmt.Errorf("%w after 1s", ErrRequestTimeout), tgerr.Transient},
		{errConnClosed, tgerr.Transport},
		{errors.New("something else"), tgerr.Fatal},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classify(c.err), "%v", c.err)
	}
}

func TestPolicyCoversCategories(t *testing.T) {
	for _, cat := range []tgerr.Category{
		tgerr.Fatal, tgerr.Transient, tgerr.Flood, tgerr.Migrate,
		tgerr.AuthKey, tgerr.Transport, tgerr.Integrity, tgerr.Handshake,
	} {
		_, ok := policy[cat]
		assert.True(t, ok, "no policy for %v", cat)
	}
	assert.Equal(t, actRetry, policy[tgerr.Transient])
	assert.Equal(t, actFail, policy[tgerr.Fatal])
}

func TestTerminalErrorCarriesCode(t *testing.T) {
	err := terminal(tgerr.Transient, tgerr.New(500, "RPC_CALL_FAIL"), 5)
	assert.Equal(t, 500, err.Code)
	assert.Equal(t, 5, err.Attempts)
	assert.Contains(t, err.Error(), "transient error after 5 attempts")

	err = terminal(tgerr.Transport, &transport.ProtocolError{Code: -429}, 1)
	assert.Equal(t, -429, err.Code)

	err = terminal(tgerr.Fatal, &BadMsgError{Code: 64}, 1)
	assert.Equal(t, 64, err.Code)
}
