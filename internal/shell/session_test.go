package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcess records calls and lets tests inject events.
type fakeProcess struct {
	mu       sync.Mutex
	starts   int
	stops    int
	kills    []string
	startErr error
	sendErr  error

	events chan Event
	sent   chan string
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		events: make(chan Event, 16),
		sent:   make(chan string, 16),
	}
}

func (p *fakeProcess) Start(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return "", p.startErr
	}
	p.starts++
	return fmt.Sprintf("h%d", p.starts), nil
}

func (p *fakeProcess) Send(_ string, text string) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent <- text
	return nil
}

func (p *fakeProcess) Stop(string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProcess) Kill(handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills = append(p.kills, handle)
	return nil
}

func (p *fakeProcess) Events() <-chan Event {
	return p.events
}

func (p *fakeProcess) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// harness drives a session the way the UI would.
type harness struct {
	t       *testing.T
	proc    *fakeProcess
	session *Session
	created chan *Execution
}

type outcome struct {
	result Result
	err    error
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, proc: newFakeProcess(), created: make(chan *Execution, 8)}
	next := 0
	if opts.NewSentinel == nil {
		opts.NewSentinel = func() string {
			next++
			return fmt.Sprintf("X%d", next)
		}
	}
	opts.OnExecution = func(e *Execution) { h.created <- e }
	h.session = NewSession(h.proc, opts)
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) execute(command string) (<-chan outcome, *Execution) {
	h.t.Helper()
	out := make(chan outcome, 1)
	go func() {
		result, err := h.session.Execute(context.Background(), command)
		out <- outcome{result: result, err: err}
	}()
	select {
	case exec := <-h.created:
		return out, exec
	case <-time.After(2 * time.Second):
		h.t.Fatal("execution was not surfaced")
		return nil, nil
	}
}

func (h *harness) expectSent(want string) {
	h.t.Helper()
	select {
	case got := <-h.proc.sent:
		assert.Equal(h.t, want, got)
	case <-time.After(2 * time.Second):
		h.t.Fatalf("command %q was not sent", want)
	}
}

func (h *harness) emit(event Event) {
	h.proc.events <- event
}

func wait(t *testing.T, out <-chan outcome) Result {
	t.Helper()
	select {
	case o := <-out:
		require.NoError(t, o.err)
		return o.result
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not resolve")
		return Result{}
	}
}

func TestSessionResolvesWhenSentinelArrives(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("echo hi")
	assert.Equal(t, StatusAwaitingConfirmation, exec.Status())
	assert.Zero(t, h.proc.startCount(), "shell starts lazily on confirmation")

	exec.Confirm()
	h.expectSent("echo hi\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "hi\nX1"})

	result := wait(t, out)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "hi", result.Output)
	assert.Equal(t, "echo hi", result.Command)
}

func TestSessionDetectsSentinelSplitAcrossChunks(t *testing.T) {
	h := newHarness(t, Options{NewSentinel: func() string { return "__DONE_abcd1234__" }})

	out, exec := h.execute("ls")
	exec.Confirm()
	h.expectSent("ls\necho '__DONE_abcd1234__'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "a.txt\nb.txt\n__DONE_ab"})
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "cd1234__\n"})

	result := wait(t, out)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "a.txt\nb.txt", result.Output)
}

func TestSessionStopKeepsShellForNextCommand(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("sleep 100")
	exec.Confirm()
	h.expectSent("sleep 100\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "partial\n"})
	require.Eventually(t, func() bool {
		return exec.Snapshot().Output == "partial\n"
	}, 2*time.Second, 5*time.Millisecond)

	exec.Stop()
	result := wait(t, out)
	assert.Equal(t, StatusStopped, result.Status)
	assert.Equal(t, "partial\n"+InterruptedMarker, result.Output)

	out, next := h.execute("echo ok")
	next.Confirm()
	h.expectSent("echo ok\necho 'X2'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "ok\nX2\n"})

	result = wait(t, out)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "ok", result.Output)
	assert.Equal(t, 1, h.proc.startCount())
	h.proc.mu.Lock()
	assert.Equal(t, 1, h.proc.stops)
	h.proc.mu.Unlock()
}

func TestSessionStopBeforeConfirmation(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("rm -rf /tmp/x")
	exec.Stop()
	exec.Confirm()

	result := wait(t, out)
	assert.Equal(t, StatusStopped, result.Status)
	assert.Equal(t, InterruptedMarker, result.Output)
	assert.Zero(t, h.proc.startCount())
}

func TestSessionIgnoresChunksForOtherHandles(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("pwd")
	exec.Confirm()
	h.expectSent("pwd\necho 'X1'\n")
	h.emit(Event{Handle: "stale", Kind: EventOutput, Chunk: "garbage X1"})
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "/root\nX1"})

	result := wait(t, out)
	assert.Equal(t, "/root", result.Output)
}

func TestSessionNonZeroStatusErrorsAndRestartsShell(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("exit 2")
	exec.Confirm()
	h.expectSent("exit 2\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "bye\n"})
	h.emit(Event{Handle: "h1", Kind: EventStatus, Status: 2})

	result := wait(t, out)
	assert.Equal(t, StatusErrored, result.Status)
	assert.Equal(t, "bye\n[Exited with status 2]", result.Output)

	out, next := h.execute("true")
	next.Confirm()
	h.expectSent("true\necho 'X2'\n")
	h.emit(Event{Handle: "h2", Kind: EventOutput, Chunk: "X2"})
	result = wait(t, out)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, 2, h.proc.startCount())
}

func TestSessionErrorEventResolvesWithMessage(t *testing.T) {
	h := newHarness(t, Options{})

	out, exec := h.execute("cat big")
	exec.Confirm()
	h.expectSent("cat big\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventError, Err: errors.New("read failed")})

	result := wait(t, out)
	assert.Equal(t, StatusErrored, result.Status)
	assert.Equal(t, "[Error] read failed", result.Output)
}

func TestSessionStartFailureErrors(t *testing.T) {
	h := newHarness(t, Options{AutoConfirm: true})
	h.proc.startErr = errors.New("no shell")

	out, _ := h.execute("ls")
	result := wait(t, out)
	assert.Equal(t, StatusErrored, result.Status)
	assert.Contains(t, result.Output, "start shell: no shell")
}

func TestSessionSendFailureErrors(t *testing.T) {
	h := newHarness(t, Options{AutoConfirm: true})
	h.proc.sendErr = errors.New("broken pipe")

	out, _ := h.execute("ls")
	result := wait(t, out)
	assert.Equal(t, StatusErrored, result.Status)
	assert.Equal(t, "[Error] broken pipe", result.Output)
}

func TestSessionAutoConfirm(t *testing.T) {
	h := newHarness(t, Options{AutoConfirm: true})

	out, _ := h.execute("date")
	h.expectSent("date\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "today\nX1\n"})
	assert.Equal(t, "today", wait(t, out).Output)
}

func TestExecutionResolvesExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	terminal := 0
	h := newHarness(t, Options{OnUpdate: func(e *Execution) {
		if e.Status().Terminal() {
			mu.Lock()
			terminal++
			mu.Unlock()
		}
	}})

	out, exec := h.execute("echo hi")
	exec.Confirm()
	h.expectSent("echo hi\necho 'X1'\n")
	h.emit(Event{Handle: "h1", Kind: EventOutput, Chunk: "hi\nX1"})
	first := wait(t, out)

	exec.Stop()
	assert.False(t, exec.resolve(StatusErrored, "late"))
	assert.Equal(t, first, exec.Wait())
	assert.Equal(t, StatusDone, exec.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, terminal)
}

func TestSessionCloseResolvesPendingExecutions(t *testing.T) {
	h := newHarness(t, Options{})

	runningOut, running := h.execute("tail -f log")
	running.Confirm()
	h.expectSent("tail -f log\necho 'X1'\n")

	waitingOut, _ := h.execute("ls")

	require.NoError(t, h.session.Close())
	assert.Equal(t, StatusStopped, wait(t, runningOut).Status)
	assert.Equal(t, StatusStopped, wait(t, waitingOut).Status)

	h.proc.mu.Lock()
	assert.Equal(t, []string{"h1"}, h.proc.kills)
	h.proc.mu.Unlock()

	_, err := h.session.Execute(context.Background(), "ls")
	require.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, h.session.Close())
}

func TestSessionContextCancelStopsExecution(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan outcome, 1)
	go func() {
		result, err := h.session.Execute(ctx, "ls")
		out <- outcome{result: result, err: err}
	}()
	<-h.created
	cancel()

	assert.Equal(t, StatusStopped, wait(t, out).Status)
}

func TestSessionRetainsBoundedExecutions(t *testing.T) {
	h := newHarness(t, Options{Retain: 2})

	for i := 0; i < 4; i++ {
		out, exec := h.execute(fmt.Sprintf("cmd %d", i))
		exec.Stop()
		wait(t, out)
	}
	executions := h.session.Executions()
	assert.LessOrEqual(t, len(executions), 3)
	assert.Equal(t, "cmd 3", executions[len(executions)-1].Command())
}

func TestPTYProcessRunsCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pty test in short mode")
	}
	bash, err := exec.LookPath("bash")
	if err != nil {
		t.Skip("bash not available")
	}

	session := NewSession(NewPTYProcess(PTYOptions{ShellPath: bash, Dir: t.TempDir()}), Options{AutoConfirm: true})
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := session.Execute(ctx, "echo hi")
	require.NoError(t, err)
	if result.Status == StatusErrored && len(result.Output) > 0 {
		t.Skipf("pty unavailable: %s", result.Output)
	}
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "hi", result.Output)

	result, err = session.Execute(ctx, "X=42; echo $X")
	require.NoError(t, err)
	assert.Equal(t, "42", result.Output)

	result, err = session.Execute(ctx, "echo hi # greet")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "hi", result.Output)

	result, err = session.Execute(ctx, "sleep 0 &")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)

	result, err = session.Execute(ctx, "cat <<EOF\nhello\nEOF")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, result.Status)
	assert.Equal(t, "hello", result.Output)

	result, err = session.Execute(ctx, "exit 3")
	require.NoError(t, err)
	assert.Equal(t, StatusErrored, result.Status)
	assert.Contains(t, result.Output, "[Exited with status 3]")
}
