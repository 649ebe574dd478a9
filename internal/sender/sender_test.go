package sender_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geovex/mtcore/internal/dctest"
	"github.com/geovex/mtcore/internal/sender"
	"github.com/geovex/mtcore/internal/session"
	"github.com/geovex/mtcore/internal/tgerr"
)

func newSender(t *testing.T, cl *dctest.Cluster, primary int, mod func(*sender.Options)) (*sender.Sender, *session.Session) {
	t.Helper()
	sess := session.New(primary)
	opts := sender.Options{
		DCs:               cl.Table(),
		Dialer:            cl.Dialer(t),
		Keys:              cl.Keys(),
		Codec:             dctest.Codec{},
		HandshakeAttempts: 2,
		HandshakeTimeout:  30 * time.Second,
		RequestTimeout:    10 * time.Second,
		MaxRetries:        3,
		RetryDelay:        10 * time.Millisecond,
		ReconnectAttempts: 3,
		FloodThreshold:    2 * time.Second,
		Logger:            cl.Logger(),
	}
	if mod != nil {
		mod(&opts)
	}
	s := sender.New(sess, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s, sess
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func call(method, arg string) *dctest.Call {
	return &dctest.Call{Method: method, Arg: arg}
}

func answer(t *testing.T, res any) string {
	t.Helper()
	a, ok := res.(*dctest.Answer)
	require.True(t, ok, "unexpected result %T", res)
	return a.Text
}

func TestInvokeFreshSession(t *testing.T) {
	cl := dctest.New(t, 2)
	st := &session.MemoryStorage{}
	s, sess := newSender(t, cl, 2, func(o *sender.Options) { o.Storage = st })
	ctx := testContext(t)

	res, err := s.Invoke(ctx, call("help.getConfig", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", answer(t, res))
	assert.Equal(t, 1, cl.DC(2).Handshakes())

	state, ok := sess.DC(2)
	require.True(t, ok)
	assert.False(t, state.AuthKey.Zero())
	assert.Equal(t, []([8]byte){state.AuthKey.ID}, cl.DC(2).KeyIDs())

	saved, err := session.Load(ctx, st)
	require.NoError(t, err)
	sstate, ok := saved.DC(2)
	require.True(t, ok)
	assert.Equal(t, state.AuthKey, sstate.AuthKey)
}

func TestReusesStoredKey(t *testing.T) {
	cl := dctest.New(t, 2)
	st := &session.MemoryStorage{}
	first, _ := newSender(t, cl, 2, func(o *sender.Options) { o.Storage = st })
	ctx := testContext(t)
	_, err := first.Invoke(ctx, call("help.getConfig", ""))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	sess, err := session.Load(ctx, st)
	require.NoError(t, err)
	second := sender.New(sess, sender.Options{
		DCs:    cl.Table(),
		Dialer: cl.Dialer(t),
		Keys:   cl.Keys(),
		Codec:  dctest.Codec{},
		Logger: cl.Logger(),
	})
	defer second.Close()
	res, err := second.Invoke(ctx, call("help.getConfig", "again"))
	require.NoError(t, err)
	assert.Equal(t, "again", answer(t, res))
	assert.Equal(t, 1, cl.DC(2).Handshakes())
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arg := fmt.Sprintf("req-%d", i)
			res, err := s.Invoke(ctx, call("messages.send", arg))
			if err != nil {
				errs <- err
				return
			}
			if got := res.(*dctest.Answer).Text; got != arg {
				errs <- fmt.Errorf("request %s got %s", arg, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	ids := cl.DC(2).MsgIDs()
	require.GreaterOrEqual(t, len(ids), n)
	seen := map[int64]bool{}
	for i, id := range ids {
		assert.False(t, seen[id], "duplicate message id %d", id)
		seen[id] = true
		assert.Zero(t, id%4)
		if i > 0 {
			assert.Greater(t, id, ids[i-1])
		}
	}
}

func TestBadServerSaltResends(t *testing.T) {
	cl := dctest.New(t, 2)
	s, sess := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	_, err := s.Invoke(ctx, call("help.getConfig", ""))
	require.NoError(t, err)
	before, _ := sess.DC(2)

	cl.DC(2).RotateSalt()
	res, err := s.Invoke(ctx, call("help.getConfig", "salted"))
	require.NoError(t, err)
	assert.Equal(t, "salted", answer(t, res))
	after, _ := sess.DC(2)
	assert.NotEqual(t, before.Salt, after.Salt)
	assert.Equal(t, 2, cl.DC(2).CallCount("help.getConfig"))
}

func TestFloodWaitSleptOut(t *testing.T) {
	cl := dctest.New(t, 2)
	var calls atomic.Int32
	cl.SetHandler(func(_ int, c *dctest.Call) dctest.Reply {
		if calls.Add(1) == 1 {
			return dctest.Fail(420, "FLOOD_WAIT_2")
		}
		return dctest.Echo(0, c)
	})
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	start := time.Now()
	res, err := s.Invoke(ctx, call("contacts.search", "x"))
	require.NoError(t, err)
	assert.Equal(t, "x", answer(t, res))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, cl.DC(2).CallCount("contacts.search"))
}

func TestFloodWaitOverThreshold(t *testing.T) {
	cl := dctest.New(t, 2)
	cl.SetHandler(func(_ int, c *dctest.Call) dctest.Reply {
		if c.Method == "contacts.search" {
			return dctest.Fail(420, "FLOOD_WAIT_7200")
		}
		return dctest.Echo(0, c)
	})
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)

	_, err := s.Invoke(ctx, call("contacts.search", "x"))
	var fw *sender.FloodWaitError
	require.ErrorAs(t, err, &fw)
	assert.Equal(t, "contacts.search", fw.Type)
	assert.Equal(t, 2*time.Hour, fw.Wait)

	// the limit is remembered and checked before touching the wire
	_, err = s.Invoke(ctx, call("contacts.search", "y"))
	require.ErrorAs(t, err, &fw)
	assert.LessOrEqual(t, fw.Wait, 2*time.Hour)
	assert.Greater(t, fw.Wait, 2*time.Hour-time.Minute)
	assert.Equal(t, 1, cl.DC(2).CallCount("contacts.search"))

	// other request types are not limited
	_, err = s.Invoke(ctx, call("help.getConfig", ""))
	require.NoError(t, err)
}

func TestTransientRetryBound(t *testing.T) {
	cl := dctest.New(t, 2)
	cl.SetHandler(func(int, *dctest.Call) dctest.Reply {
		return dctest.Fail(500, "RPC_CALL_FAIL")
	})
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.MaxRetries = 4 })
	ctx := testContext(t)

	_, err := s.Invoke(ctx, call("users.getFull", ""))
	var serr *sender.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tgerr.Transient, serr.Category)
	assert.Equal(t, 500, serr.Code)
	assert.Equal(t, 4, serr.Attempts)
	assert.True(t, tgerr.Is(err, "RPC_CALL_FAIL"))
	assert.Equal(t, 4, cl.DC(2).CallCount("users.getFull"))
}

func TestFatalNotRetried(t *testing.T) {
	cl := dctest.New(t, 2)
	cl.SetHandler(func(int, *dctest.Call) dctest.Reply {
		return dctest.Fail(400, "PEER_ID_INVALID")
	})
	s, _ := newSender(t, cl, 2, nil)
	_, err := s.Invoke(testContext(t), call("messages.send", ""))
	var serr *sender.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tgerr.Fatal, serr.Category)
	assert.Equal(t, 400, serr.Code)
	e, ok := tgerr.As(err)
	require.True(t, ok)
	assert.Equal(t, "PEER_ID_INVALID", e.Type)
	assert.Equal(t, 1, cl.DC(2).CallCount("messages.send"))
}

func migrateHandler(dc int, c *dctest.Call) dctest.Reply {
	if dc == 2 {
		return dctest.Fail(303, "USER_MIGRATE_5")
	}
	return dctest.Reply{Text: fmt.Sprintf("dc%d:%s", dc, c.Arg)}
}

func TestPrimaryMigration(t *testing.T) {
	cl := dctest.New(t, 2, 5)
	cl.SetHandler(migrateHandler)
	s, sess := newSender(t, cl, 2, nil)
	ctx := testContext(t)

	res, err := s.Invoke(ctx, call("auth.sendCode", "phone"))
	require.NoError(t, err)
	assert.Equal(t, "dc5:phone", answer(t, res))
	assert.Equal(t, 5, sess.PrimaryDC())
	old, ok := sess.DC(2)
	require.True(t, ok)
	assert.True(t, old.AuthKey.Zero())
	assert.Equal(t, 1, cl.DC(5).Handshakes())

	res, err = s.Invoke(ctx, call("auth.signIn", "code"))
	require.NoError(t, err)
	assert.Equal(t, "dc5:code", answer(t, res))
	assert.Equal(t, 1, cl.DC(2).CallCount("auth.sendCode"))
	assert.Zero(t, cl.DC(2).CallCount("auth.signIn"))
}

func TestConcurrentMigrationHandshakesOnce(t *testing.T) {
	cl := dctest.New(t, 2, 5)
	cl.SetHandler(migrateHandler)
	s, sess := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Invoke(ctx, call("messages.get", fmt.Sprint(i)))
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("dc5:%d", i), res.(*dctest.Answer).Text)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, sess.PrimaryDC())
	assert.Equal(t, 1, cl.DC(5).Handshakes())
	assert.Equal(t, 1, cl.DC(2).Handshakes())
}

type exporter struct {
	calls atomic.Int32
}

func (e *exporter) ExportAuthorization(ctx context.Context, s *sender.Sender, dc int) (sender.Request, error) {
	e.calls.Add(1)
	res, err := s.Invoke(ctx, call("auth.exportAuthorization", fmt.Sprint(dc)))
	if err != nil {
		return nil, err
	}
	return call("auth.importAuthorization", res.(*dctest.Answer).Text), nil
}

func TestExportedPoolShared(t *testing.T) {
	cl := dctest.New(t, 2, 4)
	cl.SetHandler(func(dc int, c *dctest.Call) dctest.Reply {
		if dc == 2 && c.Method == "upload.getFile" {
			return dctest.Fail(303, "FILE_MIGRATE_4")
		}
		return dctest.Reply{Text: fmt.Sprintf("dc%d:%s", dc, c.Arg)}
	})
	exp := &exporter{}
	s, sess := newSender(t, cl, 2, func(o *sender.Options) { o.Exporter = exp })
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Invoke(ctx, call("upload.getFile", fmt.Sprint(i)))
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("dc4:%d", i), res.(*dctest.Answer).Text)
			}
		}(i)
	}
	wg.Wait()

	res, err := s.InvokeOn(ctx, 4, call("upload.getFile", "direct"))
	require.NoError(t, err)
	assert.Equal(t, "dc4:direct", answer(t, res))

	assert.Equal(t, 2, sess.PrimaryDC())
	assert.Equal(t, 1, s.Pool().Created())
	assert.Equal(t, 1, cl.DC(4).Handshakes())
	assert.Equal(t, int32(1), exp.calls.Load())
	assert.Equal(t, 1, cl.DC(4).CallCount("auth.importAuthorization"))
	assert.Equal(t, 9, cl.DC(4).CallCount("upload.getFile"))

	primary, _ := sess.DC(2)
	exported, _ := sess.DC(4)
	assert.NotEqual(t, primary.AuthKey.ID, exported.AuthKey.ID)
}

func TestAuthKeyDroppedRehandshakes(t *testing.T) {
	cl := dctest.New(t, 2)
	s, sess := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	_, err := s.Invoke(ctx, call("help.getConfig", ""))
	require.NoError(t, err)
	oldKey, _ := sess.DC(2)

	cl.DC(2).DropKeys()
	res, err := s.Invoke(ctx, call("help.getConfig", "rekeyed"))
	require.NoError(t, err)
	assert.Equal(t, "rekeyed", answer(t, res))
	assert.Equal(t, 2, cl.DC(2).Handshakes())
	newKey, _ := sess.DC(2)
	assert.NotEqual(t, oldKey.AuthKey.ID, newKey.AuthKey.ID)
}

func TestLostConnectionReplaysRequest(t *testing.T) {
	cl := dctest.New(t, 2)
	var calls atomic.Int32
	cl.SetHandler(func(_ int, c *dctest.Call) dctest.Reply {
		if calls.Add(1) == 1 {
			return dctest.Reply{Drop: true}
		}
		return dctest.Echo(0, c)
	})
	s, _ := newSender(t, cl, 2, nil)
	res, err := s.Invoke(testContext(t), call("messages.send", "again"))
	require.NoError(t, err)
	assert.Equal(t, "again", answer(t, res))
	assert.Equal(t, 2, cl.DC(2).CallCount("messages.send"))
	// one handshake connection and two session connections
	assert.Equal(t, 3, cl.DC(2).Dials())
	assert.Equal(t, 1, cl.DC(2).Handshakes())
}

func TestReconnectBudget(t *testing.T) {
	cl := dctest.New(t, 2)
	cl.SetHandler(func(int, *dctest.Call) dctest.Reply {
		return dctest.Reply{Drop: true}
	})
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.ReconnectAttempts = 2 })
	_, err := s.Invoke(testContext(t), call("messages.send", ""))
	var serr *sender.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tgerr.Transport, serr.Category)
	assert.Equal(t, 3, cl.DC(2).CallCount("messages.send"))
}

func TestForgedReplyRejected(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	cl.DC(2).ForgeReplies(1)
	res, err := s.Invoke(ctx, call("messages.send", "genuine"))
	require.NoError(t, err)
	assert.Equal(t, "genuine", answer(t, res))
	// the forged answer never completed the request, it was sent again
	assert.Equal(t, 2, cl.DC(2).CallCount("messages.send"))
	assert.Equal(t, 1, cl.DC(2).Handshakes())
}

func TestRepeatedIntegrityFailuresRekey(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	cl.DC(2).ForgeReplies(2)
	_, err := s.Invoke(ctx, call("messages.send", ""))
	require.NoError(t, err)
	assert.Equal(t, 2, cl.DC(2).Handshakes())
}

type sink struct {
	mu      sync.Mutex
	updates []string
	results []string
}

func (s *sink) HandleUpdate(_ context.Context, obj any) {
	if u, ok := obj.(*dctest.Update); ok {
		s.mu.Lock()
		s.updates = append(s.updates, u.Text)
		s.mu.Unlock()
	}
}

func (s *sink) HandleResult(_ context.Context, req sender.Request, _ any) {
	s.mu.Lock()
	s.results = append(s.results, req.TypeName())
	s.mu.Unlock()
}

func (s *sink) got() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.updates...), append([]string{}, s.results...)
}

func TestUpdatesReachSink(t *testing.T) {
	cl := dctest.New(t, 2)
	cl.SetHandler(func(_ int, c *dctest.Call) dctest.Reply {
		return dctest.Reply{Text: c.Arg, Update: "in-container"}
	})
	sk := &sink{}
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.Updates = sk })
	ctx := testContext(t)

	res, err := s.Invoke(ctx, call("messages.send", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hi", answer(t, res))
	_, results := sk.got()
	assert.Equal(t, []string{"messages.send"}, results)

	cl.DC(2).Push("pushed")
	require.Eventually(t, func() bool {
		updates, _ := sk.got()
		return len(updates) == 2
	}, 5*time.Second, 10*time.Millisecond)
	updates, _ := sk.got()
	assert.Equal(t, []string{"in-container", "pushed"}, updates)
}

func TestPing(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	rtt, err := s.Ping(testContext(t))
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
	assert.Equal(t, 1, cl.DC(2).Pings())
}

func TestKeepalivePingsIdleConnection(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.PingInterval = 100 * time.Millisecond })
	require.NoError(t, s.Connect(testContext(t)))
	require.Eventually(t, func() bool {
		return cl.DC(2).Pings() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestContentKeepalive(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, func(o *sender.Options) {
		o.Keepalive = func() sender.Request { return call("updates.getState", "") }
		o.KeepaliveInterval = 100 * time.Millisecond
	})
	require.NoError(t, s.Connect(testContext(t)))
	require.Eventually(t, func() bool {
		return cl.DC(2).CallCount("updates.getState") >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestUnknownDC(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	_, err := s.InvokeOn(testContext(t), 7, call("upload.getFile", ""))
	var serr *sender.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tgerr.Fatal, serr.Category)
}

func TestClosed(t *testing.T) {
	cl := dctest.New(t, 2)
	s, _ := newSender(t, cl, 2, nil)
	require.NoError(t, s.Close())
	_, err := s.Invoke(testContext(t), call("help.getConfig", ""))
	assert.True(t, errors.Is(err, sender.ErrClosed))
}

// slowExporter holds the export back so other callers pile up on the pool.
type slowExporter struct {
	exporter
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (e *slowExporter) ExportAuthorization(ctx context.Context, s *sender.Sender, dc int) (sender.Request, error) {
	e.once.Do(func() { close(e.started) })
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.exporter.ExportAuthorization(ctx, s, dc)
}

func TestExportedCreationSurvivesCallerCancel(t *testing.T) {
	cl := dctest.New(t, 2, 4)
	exp := &slowExporter{delay: 300 * time.Millisecond, started: make(chan struct{})}
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.Exporter = exp })
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))

	actx, acancel := context.WithCancel(ctx)
	defer acancel()
	errA := make(chan error, 1)
	go func() {
		_, err := s.InvokeOn(actx, 4, call("upload.getFile", "a"))
		errA <- err
	}()
	<-exp.started

	type result struct {
		res any
		err error
	}
	resB := make(chan result, 1)
	go func() {
		res, err := s.InvokeOn(ctx, 4, call("upload.getFile", "b"))
		resB <- result{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	acancel()

	assert.ErrorIs(t, <-errA, context.Canceled)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "b", answer(t, b.res))
	assert.Equal(t, 1, s.Pool().Created())
	assert.Equal(t, int32(1), exp.calls.Load())
	assert.Equal(t, 1, cl.DC(4).Handshakes())
	assert.Equal(t, 1, cl.DC(4).CallCount("auth.importAuthorization"))
}

func TestCancelledRequestLeavesConnection(t *testing.T) {
	cl := dctest.New(t, 2)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	cl.SetHandler(func(dc int, c *dctest.Call) dctest.Reply {
		if c.Method == "slow" {
			select {
			case <-release:
			case <-time.After(5 * time.Second):
			}
		}
		return dctest.Echo(dc, c)
	})
	s, _ := newSender(t, cl, 2, nil)
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))
	dials := cl.DC(2).Dials()

	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := s.Invoke(sctx, call("slow", "late"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, err := s.Invoke(ctx, call("fast", "next"))
	require.NoError(t, err)
	assert.Equal(t, "next", answer(t, res))
	assert.Equal(t, dials, cl.DC(2).Dials())
	assert.Equal(t, 1, cl.DC(2).CallCount("slow"))
}

func TestRequestTimeoutKeepsConnection(t *testing.T) {
	cl := dctest.New(t, 2)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var slowCalls atomic.Int32
	cl.SetHandler(func(dc int, c *dctest.Call) dctest.Reply {
		switch c.Method {
		case "slow":
			if slowCalls.Add(1) == 1 {
				select {
				case <-release:
				case <-time.After(10 * time.Second):
				}
			}
		case "steady":
			time.Sleep(800 * time.Millisecond)
		}
		return dctest.Echo(dc, c)
	})
	s, _ := newSender(t, cl, 2, func(o *sender.Options) { o.RequestTimeout = time.Second })
	ctx := testContext(t)
	require.NoError(t, s.Connect(ctx))
	dials := cl.DC(2).Dials()

	steady := make(chan error, 1)
	go func() {
		time.Sleep(500 * time.Millisecond)
		res, err := s.Invoke(ctx, call("steady", "s"))
		if err == nil && res.(*dctest.Answer).Text != "s" {
			err = fmt.Errorf("unexpected answer %q", res.(*dctest.Answer).Text)
		}
		steady <- err
	}()

	res, err := s.Invoke(ctx, call("slow", "x"))
	require.NoError(t, err)
	assert.Equal(t, "x", answer(t, res))
	require.NoError(t, <-steady)

	assert.Equal(t, 2, cl.DC(2).CallCount("slow"))
	assert.Equal(t, 1, cl.DC(2).CallCount("steady"))
	assert.Equal(t, dials, cl.DC(2).Dials())
}

func TestRequestTimeoutRetryBound(t *testing.T) {
	cl := dctest.New(t, 2)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	cl.SetHandler(func(dc int, c *dctest.Call) dctest.Reply {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		return dctest.Echo(dc, c)
	})
	s, _ := newSender(t, cl, 2, func(o *sender.Options) {
		o.RequestTimeout = 50 * time.Millisecond
		o.MaxRetries = 2
	})
	_, err := s.Invoke(testContext(t), call("slow", ""))
	var serr *sender.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tgerr.Transient, serr.Category)
	assert.ErrorIs(t, err, sender.ErrRequestTimeout)
	assert.Equal(t, 2, cl.DC(2).CallCount("slow"))
}
