package shell

import (
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of an Execution.
type Status int

const (
	StatusAwaitingConfirmation Status = iota
	StatusRunning
	StatusDone
	StatusErrored
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusAwaitingConfirmation:
		return "awaiting confirmation"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusErrored:
		return "errored"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusErrored || s == StatusStopped
}

// InterruptedMarker is appended to the output of a stopped execution.
const InterruptedMarker = "[Command interrupted]"

// Result is the resolved outcome of an Execution.
type Result struct {
	ID      string
	Command string
	Status  Status
	// Output is the captured text with the sentinel removed and surrounding
	// whitespace trimmed.
	Output string
}

// Snapshot is a point-in-time view of an Execution for display.
type Snapshot struct {
	ID         string
	Command    string
	Status     Status
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Execution is one confirmation-gated command. It resolves exactly once.
type Execution struct {
	id      string
	command string
	session *Session
	gate    *Gate
	created time.Time

	mu         sync.Mutex
	status     Status
	sentinel   string
	output     strings.Builder
	startedAt  time.Time
	finishedAt time.Time

	once   sync.Once
	done   chan struct{}
	result Result
}

func newExecution(session *Session, id string, command string) *Execution {
	return &Execution{
		id:      id,
		command: command,
		session: session,
		gate:    NewGate(),
		created: time.Now(),
		status:  StatusAwaitingConfirmation,
		done:    make(chan struct{}),
	}
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// Command returns the command text.
func (e *Execution) Command() string { return e.command }

// Confirm lets the command run. Confirming twice, or after Stop, does nothing.
func (e *Execution) Confirm() {
	e.gate.Open()
}

// Stop cancels the execution. A running command is interrupted in the shell,
// which stays alive for later commands.
func (e *Execution) Stop() {
	e.mu.Lock()
	status := e.status
	e.mu.Unlock()
	if status.Terminal() {
		return
	}
	if status == StatusRunning {
		e.session.interrupt(e)
	}
	e.resolve(StatusStopped, "\n"+InterruptedMarker)
}

// Done is closed when the execution resolves.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the execution resolves and returns its result.
func (e *Execution) Wait() Result {
	<-e.done
	return e.result
}

// Status returns the current state.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns the current state with the visible output so far.
func (e *Execution) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:         e.id,
		Command:    e.command,
		Status:     e.status,
		Output:     e.visibleOutput(),
		StartedAt:  e.startedAt,
		FinishedAt: e.finishedAt,
	}
}

// start moves the execution to running with the given sentinel. It fails if
// the execution was resolved while waiting.
func (e *Execution) start(sentinel string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusAwaitingConfirmation {
		return false
	}
	e.status = StatusRunning
	e.sentinel = sentinel
	e.startedAt = time.Now()
	return true
}

// appendOutput adds a chunk and reports whether the sentinel has been seen.
func (e *Execution) appendOutput(chunk string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return false
	}
	e.output.WriteString(chunk)
	return e.sentinel != "" && strings.Contains(e.output.String(), e.sentinel)
}

// visibleOutput strips the sentinel and anything printed after it.
// Callers hold e.mu.
func (e *Execution) visibleOutput() string {
	text := e.output.String()
	if e.sentinel != "" {
		if idx := strings.Index(text, e.sentinel); idx >= 0 {
			text = text[:idx]
		}
	}
	return text
}

// resolve records the terminal state once and reports whether this call did
// it. The session is notified before waiters are released.
func (e *Execution) resolve(status Status, suffix string) bool {
	resolved := false
	e.once.Do(func() {
		e.mu.Lock()
		visible := e.visibleOutput()
		if suffix != "" {
			visible = strings.TrimRight(visible, " \t\n")
		}
		e.output.Reset()
		e.output.WriteString(visible + suffix)
		e.sentinel = ""
		e.status = status
		e.finishedAt = time.Now()
		e.result = Result{
			ID:      e.id,
			Command: e.command,
			Status:  status,
			Output:  strings.TrimSpace(e.output.String()),
		}
		e.mu.Unlock()
		resolved = true
	})
	if !resolved {
		return false
	}
	e.session.resolved(e)
	close(e.done)
	return true
}
