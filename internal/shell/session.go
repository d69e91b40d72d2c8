package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionClosed is returned by Execute after Close.
var ErrSessionClosed = errors.New("shell session closed")

// DefaultRetain is how many executions the session keeps for display.
const DefaultRetain = 200

// Options configures a Session.
type Options struct {
	// Label is passed to the process when the shell starts.
	Label string
	// Logger records lifecycle events.
	Logger *zap.Logger
	// AutoConfirm skips the confirmation wait.
	AutoConfirm bool
	// OnExecution is called when a new execution awaits confirmation.
	OnExecution func(*Execution)
	// OnUpdate is called after output arrives or the state changes.
	OnUpdate func(*Execution)
	// NewSentinel overrides sentinel generation.
	NewSentinel func() string
	// Retain bounds the executions kept after they resolve.
	Retain int
}

// Session runs confirmed commands one at a time on a long-lived shell.
type Session struct {
	proc Process
	opts Options
	log  *zap.Logger

	// slot serializes running commands.
	slot chan struct{}

	mu         sync.Mutex
	handle     string
	active     *Execution
	executions []*Execution
	closed     bool
	loopOnce   sync.Once
	stopLoop   chan struct{}
	loopDone   chan struct{}
}

// NewSession creates a session. The shell is not started until the first
// confirmed command.
func NewSession(proc Process, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewSentinel == nil {
		opts.NewSentinel = newSentinel
	}
	if opts.Retain <= 0 {
		opts.Retain = DefaultRetain
	}
	return &Session{
		proc:     proc,
		opts:     opts,
		log:      opts.Logger,
		slot:     make(chan struct{}, 1),
		stopLoop: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func newSentinel() string {
	return "__DONE_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "__"
}

// Execute surfaces the command for confirmation, runs it once confirmed and
// returns its result. Every exit path resolves the execution. Cancelling ctx
// stops the execution.
func (s *Session) Execute(ctx context.Context, command string) (Result, error) {
	exec, err := s.register(command)
	if err != nil {
		return Result{}, err
	}
	if s.opts.OnExecution != nil {
		s.opts.OnExecution(exec)
	}
	if s.opts.AutoConfirm {
		exec.Confirm()
	}

	select {
	case <-exec.gate.Done():
	case <-exec.Done():
		return exec.Wait(), nil
	case <-ctx.Done():
		exec.Stop()
		return exec.Wait(), nil
	}

	select {
	case s.slot <- struct{}{}:
	case <-exec.Done():
		return exec.Wait(), nil
	case <-ctx.Done():
		exec.Stop()
		return exec.Wait(), nil
	}
	defer func() { <-s.slot }()

	s.run(ctx, exec)

	select {
	case <-exec.Done():
	case <-ctx.Done():
		exec.Stop()
	}
	return exec.Wait(), nil
}

// Executions returns the retained executions, oldest first.
func (s *Session) Executions() []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Execution(nil), s.executions...)
}

// Close kills the shell and resolves every pending execution as stopped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handle := s.handle
	s.handle = ""
	pending := make([]*Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		if !exec.Status().Terminal() {
			pending = append(pending, exec)
		}
	}
	s.mu.Unlock()

	for _, exec := range pending {
		exec.resolve(StatusStopped, "\n"+InterruptedMarker)
	}

	var err error
	if handle != "" {
		s.log.Info("killing shell", zap.String("handle", handle))
		err = s.proc.Kill(handle)
	}
	close(s.stopLoop)
	s.loopOnce.Do(func() { close(s.loopDone) })
	<-s.loopDone
	return err
}

func (s *Session) register(command string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	exec := newExecution(s, uuid.NewString(), command)
	s.executions = append(s.executions, exec)
	s.pruneLocked()
	return exec, nil
}

// pruneLocked drops the oldest resolved executions beyond the retain limit.
func (s *Session) pruneLocked() {
	excess := len(s.executions) - s.opts.Retain
	if excess <= 0 {
		return
	}
	kept := s.executions[:0]
	for _, exec := range s.executions {
		if excess > 0 && exec.Status().Terminal() {
			excess--
			continue
		}
		kept = append(kept, exec)
	}
	s.executions = kept
}

// run starts the shell if needed, makes exec the active execution and sends
// the command followed by its sentinel.
func (s *Session) run(ctx context.Context, exec *Execution) {
	if exec.Status() != StatusAwaitingConfirmation {
		return
	}
	handle, err := s.ensureStarted(ctx)
	if err != nil {
		if exec.start("") {
			exec.resolve(StatusErrored, "\n[Error] "+err.Error())
		}
		return
	}

	sentinel := s.opts.NewSentinel()
	s.mu.Lock()
	if !exec.start(sentinel) {
		s.mu.Unlock()
		return
	}
	s.active = exec
	s.mu.Unlock()
	s.notify(exec)

	s.log.Debug("running command",
		zap.String("execution", exec.id),
		zap.String("command", exec.command))
	// The sentinel echo needs its own line after comments, & and heredocs.
	if err := s.proc.Send(handle, fmt.Sprintf("%s\necho '%s'\n", exec.command, sentinel)); err != nil {
		exec.resolve(StatusErrored, "\n[Error] "+err.Error())
	}
}

// ensureStarted lazily launches the shell and the event loop.
func (s *Session) ensureStarted(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.handle != "" {
		return s.handle, nil
	}
	handle, err := s.proc.Start(ctx, s.opts.Label)
	if err != nil {
		return "", fmt.Errorf("start shell: %w", err)
	}
	s.handle = handle
	s.log.Info("shell started", zap.String("handle", handle), zap.String("label", s.opts.Label))
	s.loopOnce.Do(func() { go s.loop() })
	return handle, nil
}

// loop routes process events to the active execution until Close.
func (s *Session) loop() {
	defer close(s.loopDone)
	events := s.proc.Events()
	for {
		select {
		case <-s.stopLoop:
			return
		case event, ok := <-events:
			if !ok {
				s.failActive("shell event stream closed")
				return
			}
			s.handleEvent(event)
		}
	}
}

func (s *Session) handleEvent(event Event) {
	s.mu.Lock()
	if event.Handle != s.handle {
		s.mu.Unlock()
		s.log.Debug("ignoring event for stale shell", zap.String("handle", event.Handle))
		return
	}
	if event.Kind == EventStatus {
		// The shell is gone; the next command starts a new one.
		s.handle = ""
	}
	exec := s.active
	s.mu.Unlock()

	switch event.Kind {
	case EventOutput:
		if exec == nil {
			return
		}
		if exec.appendOutput(event.Chunk) {
			exec.resolve(StatusDone, "")
			return
		}
		s.notify(exec)
	case EventStatus:
		s.log.Info("shell exited", zap.String("handle", event.Handle), zap.Int("status", event.Status))
		if exec == nil {
			return
		}
		if event.Status != 0 {
			exec.resolve(StatusErrored, fmt.Sprintf("\n[Exited with status %d]", event.Status))
			return
		}
		exec.resolve(StatusErrored, "\n[Shell exited]")
	case EventError:
		s.log.Warn("shell error", zap.String("handle", event.Handle), zap.Error(event.Err))
		if exec == nil {
			return
		}
		message := "unknown error"
		if event.Err != nil {
			message = event.Err.Error()
		}
		exec.resolve(StatusErrored, "\n[Error] "+message)
	}
}

func (s *Session) failActive(message string) {
	s.mu.Lock()
	exec := s.active
	s.handle = ""
	s.mu.Unlock()
	if exec != nil {
		exec.resolve(StatusErrored, "\n[Error] "+message)
	}
}

// interrupt asks the shell to stop exec if it is still the active one.
func (s *Session) interrupt(exec *Execution) {
	s.mu.Lock()
	handle := s.handle
	active := s.active == exec
	s.mu.Unlock()
	if !active || handle == "" {
		return
	}
	if err := s.proc.Stop(handle); err != nil {
		s.log.Warn("interrupt failed", zap.String("handle", handle), zap.Error(err))
	}
}

// resolved detaches exec so later output is ignored.
func (s *Session) resolved(exec *Execution) {
	s.mu.Lock()
	if s.active == exec {
		s.active = nil
	}
	s.mu.Unlock()
	s.log.Debug("execution resolved",
		zap.String("execution", exec.id),
		zap.Stringer("status", exec.Status()))
	s.notify(exec)
}

func (s *Session) notify(exec *Execution) {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(exec)
	}
}
