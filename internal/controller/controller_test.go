// ABOUTME: End-to-end tests for the controller loop over loopback TCP.
// ABOUTME: Scripted agents exercise handshake, dispatch, correlation, eviction and shutdown.

package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/store"
	"github.com/2389/coven-fleet/internal/transport"
)

const waitFor = 3 * time.Second

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t       *testing.T
	ctrl    *Controller
	addr    string
	console *io.PipeWriter
	out     *syncBuffer
	store   *store.MockStore
	cancel  context.CancelFunc
	stopped chan struct{}
	runErr  error
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startController(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := Config{
		Listener:     ln,
		MaxSessions:  4,
		HelloTimeout: 500 * time.Millisecond,
		TickInterval: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	pr, pw := io.Pipe()
	h := &harness{
		t:       t,
		addr:    ln.Addr().String(),
		console: pw,
		out:     &syncBuffer{},
		store:   store.NewMockStore(),
		stopped: make(chan struct{}),
	}
	h.ctrl = New(cfg, h.store, pr, h.out, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runErr = h.ctrl.Run(ctx)
		close(h.stopped)
	}()

	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
		select {
		case <-h.stopped:
		case <-time.After(waitFor):
			t.Error("controller did not stop")
		}
	})
	return h
}

// command types one console line.
func (h *harness) command(line string) {
	h.t.Helper()
	_, err := io.WriteString(h.console, line+"\n")
	require.NoError(h.t, err)
}

func (h *harness) waitOutput(substr string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return strings.Contains(h.out.String(), substr)
	}, waitFor, 10*time.Millisecond, "output never contained %q; got:\n%s", substr, h.out.String())
}

func (h *harness) sessionCount() int {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	sessions, err := h.ctrl.Sessions(ctx)
	require.NoError(h.t, err)
	return len(sessions)
}

func (h *harness) waitSessions(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.sessionCount() == n
	}, waitFor, 10*time.Millisecond)
}

func (h *harness) waitStopped() {
	h.t.Helper()
	select {
	case <-h.stopped:
	case <-time.After(waitFor):
		h.t.Fatal("controller did not stop")
	}
}

// fakeAgent is a scripted agent driven directly by the test.
type fakeAgent struct {
	t    *testing.T
	conn *transport.Conn
}

func (h *harness) dial() *fakeAgent {
	h.t.Helper()
	conn, err := transport.Dial(context.Background(), h.addr)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return &fakeAgent{t: h.t, conn: conn}
}

// connect dials, says hello and requires an ok ack.
func (h *harness) connect(name string) *fakeAgent {
	h.t.Helper()
	a := h.dial()
	a.send(protocol.Hello{Name: name, OS: "linux", Address: "10.0.0.7"}.Encode())
	ack, err := a.expect(protocol.TypeAck).Ack()
	require.NoError(h.t, err)
	require.True(h.t, ack.OK(), "ack status %q", ack.Status)
	return a
}

func (a *fakeAgent) send(payload []byte) {
	a.t.Helper()
	require.NoError(a.t, a.conn.SendFull(payload))
}

func (a *fakeAgent) sendRaw(line string) {
	a.t.Helper()
	require.NoError(a.t, a.conn.Send(line))
}

func (a *fakeAgent) expect(t protocol.Type) *protocol.Envelope {
	a.t.Helper()
	line, err := a.conn.RecvLine(waitFor)
	require.NoError(a.t, err)
	env, err := protocol.Decode(line)
	require.NoError(a.t, err)
	require.Equal(a.t, t, env.Type, "raw: %s", line)
	return env
}

// expectClosed requires the controller to close the connection.
func (a *fakeAgent) expectClosed() {
	a.t.Helper()
	for {
		_, err := a.conn.RecvLine(waitFor)
		if err == nil {
			continue
		}
		require.ErrorIs(a.t, err, transport.ErrClosed)
		return
	}
}

func TestController_AdmitsAndListsNodes(t *testing.T) {
	h := startController(t, nil)
	h.connect("web-1")

	ctx := context.Background()
	sessions, err := h.ctrl.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "web-1", sessions[0].Node.Name)
	assert.Equal(t, "linux", sessions[0].Node.OS)
	assert.Equal(t, "10.0.0.7", sessions[0].Node.Address)

	h.command("nodes")
	h.waitOutput("Connected nodes (1/4):")
	h.waitOutput("web-1")
}

func TestController_ExecRoundTrip(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.command("exec web-1 echo  hi | tr a-z A-Z")

	exec, err := agent.expect(protocol.TypeExec).Exec()
	require.NoError(t, err)
	assert.Equal(t, "echo  hi | tr a-z A-Z", exec.Cmd, "command text is passed through verbatim")
	h.waitOutput("sent to web-1 (id=" + exec.ID + ")")

	pending, err := h.ctrl.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, exec.ID, pending[0].ID)

	agent.send(protocol.Result{ID: exec.ID, Exit: 3, Stdout: "HI\n", Stderr: "warn"}.Encode())

	h.waitOutput("[web-1] command result (id=" + exec.ID + ", exit=3)\nstdout:\nHI\nstderr:\nwarn\n")

	require.Eventually(t, func() bool { return len(h.store.Commands()) == 1 }, waitFor, 10*time.Millisecond)
	rec := h.store.Commands()[0]
	assert.Equal(t, exec.ID, rec.CommandID)
	assert.Equal(t, "web-1", rec.Node)
	assert.Equal(t, "echo  hi | tr a-z A-Z", rec.Command)
	assert.Equal(t, 3, rec.ExitCode)
	assert.Equal(t, "HI\n", rec.Stdout)
	assert.Equal(t, "warn", rec.Stderr)
	assert.False(t, rec.SentAt.IsZero())

	pending, err = h.ctrl.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestController_CorrelatesInterleavedResults(t *testing.T) {
	h := startController(t, nil)
	web := h.connect("web-1")
	db := h.connect("db-1")

	ids := make(map[string]string)
	for _, step := range []struct {
		agent *fakeAgent
		line  string
		cmd   string
	}{
		{web, "exec web-1 cmd-a", "cmd-a"},
		{db, "exec db-1 cmd-c", "cmd-c"},
		{web, "exec web-1 cmd-b", "cmd-b"},
		{db, "exec db-1 cmd-d", "cmd-d"},
	} {
		h.command(step.line)
		exec, err := step.agent.expect(protocol.TypeExec).Exec()
		require.NoError(t, err)
		require.Equal(t, step.cmd, exec.Cmd)
		ids[step.cmd] = exec.ID
	}

	pending, err := h.ctrl.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 4)

	result := func(cmd string, exit int) []byte {
		return protocol.Result{ID: ids[cmd], Exit: exit, Stdout: "out-" + cmd}.Encode()
	}

	// Results come back in reverse order, with traffic on the other session in between
	db.send(result("cmd-d", 4))
	web.send(protocol.Ping{}.Encode())
	web.expect(protocol.TypePong)
	web.send(result("cmd-b", 2))
	db.send(protocol.Pong{}.Encode())
	db.send(protocol.Ping{}.Encode())
	db.expect(protocol.TypePong)
	web.send(result("cmd-a", 1))
	web.send(protocol.Pong{}.Encode())
	db.send(result("cmd-c", 3))

	want := map[string]struct {
		node string
		exit int
	}{
		"cmd-a": {"web-1", 1},
		"cmd-b": {"web-1", 2},
		"cmd-c": {"db-1", 3},
		"cmd-d": {"db-1", 4},
	}
	for cmd, w := range want {
		h.waitOutput(fmt.Sprintf("[%s] command result (id=%s, exit=%d)\nstdout:\nout-%s\n", w.node, ids[cmd], w.exit, cmd))
	}
	h.waitOutput("pong from web-1")
	h.waitOutput("pong from db-1")

	require.Eventually(t, func() bool { return len(h.store.Commands()) == 4 }, waitFor, 10*time.Millisecond)
	byID := make(map[string]store.CommandRecord)
	for _, rec := range h.store.Commands() {
		byID[rec.CommandID] = rec
	}
	for cmd, w := range want {
		rec, ok := byID[ids[cmd]]
		require.True(t, ok, "no history for %s", cmd)
		assert.Equal(t, w.node, rec.Node, cmd)
		assert.Equal(t, cmd, rec.Command)
		assert.Equal(t, w.exit, rec.ExitCode, cmd)
		assert.Equal(t, "out-"+cmd, rec.Stdout, cmd)
	}

	pending, err = h.ctrl.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, h.sessionCount())
}

func TestController_ResultWithEmptyStreams(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("db-1")

	agent.sendRaw(`{"type":"result","id":"77_1","exit":0,"stdout":"","stderr":""}`)
	h.waitOutput("[db-1] command result (id=77_1, exit=0)\nstdout: <empty>\nstderr: <empty>\n")
}

func TestController_ResultForUnknownIDIsShownAndRecorded(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	agent.send(protocol.Result{ID: "bogus_9", Exit: 1, Stdout: "x"}.Encode())
	h.waitOutput("(id=bogus_9, exit=1)")

	require.Eventually(t, func() bool { return len(h.store.Commands()) == 1 }, waitFor, 10*time.Millisecond)
	rec := h.store.Commands()[0]
	assert.Equal(t, "", rec.Command)
	assert.True(t, rec.SentAt.IsZero())
}

func TestController_ResultWithoutExitReportsMinusOne(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	agent.sendRaw(`{"stdout":"ok","id":"5_5","type":"result"}`)
	h.waitOutput("(id=5_5, exit=-1)")
}

func TestController_MalformedMessagesKeepSession(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	agent.sendRaw("not json at all")
	agent.sendRaw(`{"no":"type"}`)
	agent.sendRaw(`{"type":"result","exit":0}`)
	agent.sendRaw(`{"type":"mystery"}`)
	agent.send(protocol.Ping{}.Encode())

	// The ping after the garbage still gets answered
	agent.expect(protocol.TypePong)
	assert.Equal(t, 1, h.sessionCount())
}

func TestController_PingCommand(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.command("ping web-1")
	agent.expect(protocol.TypePing)
	h.waitOutput("ping sent to web-1")

	agent.send(protocol.Pong{}.Encode())
	h.waitOutput("pong from web-1")
}

func TestController_UnknownNode(t *testing.T) {
	h := startController(t, nil)

	h.command("exec ghost uptime")
	h.waitOutput("node not found: ghost")

	h.command("ping ghost")
	h.command("kick ghost")
	require.Eventually(t, func() bool {
		return strings.Count(h.out.String(), "node not found: ghost") == 3
	}, waitFor, 10*time.Millisecond)
}

func TestController_UsageErrors(t *testing.T) {
	h := startController(t, nil)
	h.connect("web-1")

	h.command("exec web-1")
	h.waitOutput("usage: exec <node> <command>")

	h.command("ping")
	h.waitOutput("usage: ping <node>")

	h.command("frobnicate")
	h.waitOutput("unknown command: frobnicate")

	// Blank lines are ignored and the loop keeps running
	h.command("   ")
	h.command("help")
	h.waitOutput("exec <node> <command...>")
}

func TestController_EvictsOnDisconnect(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")
	h.connect("db-1")

	require.NoError(t, agent.conn.Close())

	h.waitSessions(1)
	h.waitOutput("node web-1 disconnected")

	sessions, err := h.ctrl.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db-1", sessions[0].Node.Name)
}

func TestController_ReconnectReplacesSession(t *testing.T) {
	h := startController(t, nil)
	first := h.connect("web-1")
	second := h.connect("web-1")

	// The older connection is closed by the controller
	first.expectClosed()

	assert.Equal(t, 1, h.sessionCount())

	// The replacement is fully functional
	h.command("ping web-1")
	second.expect(protocol.TypePing)

	// The old reader's disconnect must not evict the new session
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())
}

func TestController_ReconnectForgetsOldHeartbeat(t *testing.T) {
	h := startController(t, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = time.Second
	})
	first := h.connect("web-1")

	sessions, err := h.ctrl.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	oldHandle := sessions[0].Handle

	// Left unanswered, so the ping stays outstanding
	first.expect(protocol.TypePing)

	h.connect("web-1")
	first.expectClosed()

	tracked, err := ask(context.Background(), h.ctrl, func() bool {
		_, ok := h.ctrl.lastPing[oldHandle]
		return ok
	})
	require.NoError(t, err)
	assert.False(t, tracked, "replaced session still has a heartbeat entry")
}

func TestController_CapacityRejectsAdmission(t *testing.T) {
	h := startController(t, func(c *Config) { c.MaxSessions = 1 })
	h.connect("web-1")

	extra := h.dial()
	extra.send(protocol.Hello{Name: "db-1"}.Encode())
	ack, err := extra.expect(protocol.TypeAck).Ack()
	require.NoError(t, err)
	assert.Equal(t, protocol.AckRejected, ack.Status)
	assert.NotEmpty(t, ack.Reason)
	extra.expectClosed()

	sessions, err := h.ctrl.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "web-1", sessions[0].Node.Name)

	// A known node can still reconnect into its own slot
	h.connect("web-1")
	assert.Equal(t, 1, h.sessionCount())
}

func TestController_HandshakeTimeoutClosesConnection(t *testing.T) {
	h := startController(t, func(c *Config) { c.HelloTimeout = 100 * time.Millisecond })

	silent := h.dial()
	silent.expectClosed()
	assert.Equal(t, 0, h.sessionCount())
}

func TestController_InvalidHelloClosesConnection(t *testing.T) {
	h := startController(t, nil)

	for _, line := range []string{
		`{"type":"ping"}`,
		`{"type":"hello"}`,
		`garbage`,
	} {
		a := h.dial()
		a.sendRaw(line)
		a.expectClosed()
	}
	assert.Equal(t, 0, h.sessionCount())
}

func TestController_KickCommand(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.command("kick web-1")
	agent.expectClosed()
	h.waitSessions(0)
	h.waitOutput("node web-1 evicted")
}

func TestController_ExitCommandStops(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.command("exit")
	h.waitStopped()

	assert.NoError(t, h.runErr)
	agent.expectClosed()

	_, err := h.ctrl.Sessions(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestController_OperatorEOFStops(t *testing.T) {
	h := startController(t, nil)
	h.connect("web-1")

	require.NoError(t, h.console.Close())
	h.waitStopped()
	assert.NoError(t, h.runErr)
}

func TestController_ContextCancelStops(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.cancel()
	h.waitStopped()
	assert.NoError(t, h.runErr)
	agent.expectClosed()
}

func TestController_HeartbeatEvictsSilentNode(t *testing.T) {
	h := startController(t, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = 200 * time.Millisecond
	})
	h.connect("web-1")

	// The agent never answers the pings it is sent
	h.waitSessions(0)
	h.waitOutput("node web-1 timed out")
}

func TestController_HeartbeatKeepsResponsiveNode(t *testing.T) {
	h := startController(t, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = 200 * time.Millisecond
	})
	agent := h.connect("web-1")

	for i := 0; i < 4; i++ {
		agent.expect(protocol.TypePing)
		agent.send(protocol.Pong{}.Encode())
	}
	assert.Equal(t, 1, h.sessionCount())
	assert.NotContains(t, h.out.String(), "pong from web-1", "heartbeat pongs are not shown to the operator")
}

func TestController_HeartbeatSparesBusyNode(t *testing.T) {
	h := startController(t, func(c *Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.HeartbeatTimeout = 150 * time.Millisecond
	})
	agent := h.connect("web-1")

	h.command("exec web-1 sleep 1")
	exec, err := agent.expect(protocol.TypeExec).Exec()
	require.NoError(t, err)

	// Silent while "executing", well past the heartbeat timeout
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, h.sessionCount())

	agent.send(protocol.Result{ID: exec.ID, Exit: 0}.Encode())
	h.waitOutput("(id=" + exec.ID + ", exit=0)")
}

func TestController_PendingExpires(t *testing.T) {
	h := startController(t, func(c *Config) { c.PendingTTL = 50 * time.Millisecond })
	agent := h.connect("web-1")

	h.command("exec web-1 true")
	agent.expect(protocol.TypeExec)

	require.Eventually(t, func() bool {
		pending, err := h.ctrl.Pending(context.Background())
		return err == nil && len(pending) == 0
	}, waitFor, 10*time.Millisecond)
}

func TestController_PendingAndHistoryCommands(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")

	h.command("exec web-1 hostname")
	exec, err := agent.expect(protocol.TypeExec).Exec()
	require.NoError(t, err)

	h.command("pending")
	h.waitOutput("Pending commands (1):")

	agent.send(protocol.Result{ID: exec.ID, Exit: 0, Stdout: "web-1\n"}.Encode())
	h.waitOutput("(id=" + exec.ID + ", exit=0)")

	h.command("history web-1 5")
	h.waitOutput(exec.ID)
	h.waitOutput("hostname")

	h.command("history nobody")
	h.waitOutput("No command history.")
}

func TestController_StatusShowsConfiguredNodes(t *testing.T) {
	h := startController(t, func(c *Config) {
		c.Nodes = []config.Node{
			{Name: "web-1", Address: "10.0.0.11", OS: "linux"},
			{Name: "db-1", Address: "10.0.0.21", OS: "linux"},
		}
	})
	h.connect("web-1")
	h.connect("stray")

	h.command("status")
	h.waitOutput("online (unconfigured)")

	out := h.out.String()
	assert.Regexp(t, `web-1\s+online`, out)
	assert.Regexp(t, `db-1\s+offline`, out)
	assert.Regexp(t, `stray\s+online \(unconfigured\)`, out)
}

func TestController_SendFailureEvictsNode(t *testing.T) {
	h := startController(t, nil)
	agent := h.connect("web-1")
	require.NoError(t, agent.conn.Close())

	// Depending on timing the reader or the failed send evicts the session
	h.command("ping web-1")
	h.waitSessions(0)
}

// failOnceListener fails its first Accept the way an exhausted fd table does.
type failOnceListener struct {
	net.Listener
	failed atomic.Bool
}

func (l *failOnceListener) Accept() (net.Conn, error) {
	if l.failed.CompareAndSwap(false, true) {
		return nil, errors.New("accept4: too many open files")
	}
	return l.Listener.Accept()
}

func TestController_AcceptErrorIsRetried(t *testing.T) {
	var ln *failOnceListener
	h := startController(t, func(c *Config) {
		ln = &failOnceListener{Listener: c.Listener}
		c.Listener = ln
	})

	h.connect("web-1")
	assert.True(t, ln.failed.Load())
	assert.Equal(t, 1, h.sessionCount())

	select {
	case <-h.stopped:
		t.Fatalf("controller stopped after accept error: %v", h.runErr)
	default:
	}
}

func TestController_OversizedOperatorLineIsDropped(t *testing.T) {
	h := startController(t, func(c *Config) { c.MaxMessageSize = 1024 })
	h.connect("web-1")

	h.command(strings.Repeat("x", 5000))
	h.waitOutput("input line too long, ignored")

	// A line right at the cap is still interpreted
	h.command(strings.Repeat("y", 1024))
	h.waitOutput("unknown command: yyyy")

	h.command("nodes")
	h.waitOutput("Connected nodes (1/4):")

	select {
	case <-h.stopped:
		t.Fatal("controller stopped after an oversized operator line")
	default:
	}
}

func TestController_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	c := New(Config{ListenAddr: taken.Addr().String()}, nil, nil, nil, testLogger())
	err = c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binding")
}

func TestController_HeadlessRunsUntilCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := New(Config{Listener: ln, TickInterval: 10 * time.Millisecond}, nil, nil, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	conn, err := transport.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SendFull(protocol.Hello{Name: "n"}.Encode()))
	_, err = conn.RecvLine(waitFor)
	require.NoError(t, err)

	// Results are still shown and nothing is recorded without a store
	require.NoError(t, conn.SendFull(protocol.Result{ID: "1_1"}.Encode()))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("controller did not stop")
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.ListenPort = 7171
	cfg.Controller.HealthAddr = "127.0.0.1:7172"
	cfg.Nodes = []config.Node{{Name: "a"}}

	cc := ConfigFrom(cfg)
	assert.Equal(t, ":7171", cc.ListenAddr)
	assert.Equal(t, "127.0.0.1:7172", cc.HealthAddr)
	assert.Equal(t, config.DefaultMaxSessions, cc.MaxSessions)
	assert.Equal(t, config.DefaultHelloTimeout, cc.HelloTimeout)
	assert.Len(t, cc.Nodes, 1)
}
