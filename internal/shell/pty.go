package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultReadyTimeout bounds the startup handshake.
const DefaultReadyTimeout = 5 * time.Second

// interruptKey is the terminal interrupt character (Ctrl-C).
const interruptKey = "\x03"

// PTYOptions configures a PTYProcess.
type PTYOptions struct {
	// ShellPath is the shell binary (default $SHELL, then bash).
	ShellPath string
	// Dir is the working directory for new shells.
	Dir string
	// ReadyTimeout bounds the startup handshake.
	ReadyTimeout time.Duration
	// Logger records shell lifecycle events.
	Logger *zap.Logger
}

// PTYProcess runs shells on pseudo-terminals.
type PTYProcess struct {
	opts   PTYOptions
	log    *zap.Logger
	events chan Event

	mu     sync.Mutex
	shells map[string]*ptyShell
}

type ptyShell struct {
	handle string
	label  string
	cmd    *exec.Cmd
	ptmx   *os.File
	done   chan struct{}
	once   sync.Once
	killed atomic.Bool
	ready  atomic.Bool
	wmu    sync.Mutex
}

func (s *ptyShell) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ptmx.Close()
	})
}

// NewPTYProcess returns a process collaborator backed by creack/pty.
func NewPTYProcess(opts PTYOptions) *PTYProcess {
	if opts.ShellPath == "" {
		opts.ShellPath = os.Getenv("SHELL")
	}
	if opts.ShellPath == "" {
		opts.ShellPath = "bash"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &PTYProcess{
		opts:   opts,
		log:    opts.Logger,
		events: make(chan Event, 64),
		shells: map[string]*ptyShell{},
	}
}

// Events delivers events for every shell started by this process.
func (p *PTYProcess) Events() <-chan Event {
	return p.events
}

// Start launches a shell with echo disabled and waits until it is ready to
// accept commands. Output printed before that point is discarded.
func (p *PTYProcess) Start(ctx context.Context, label string) (string, error) {
	cmd := exec.Command(p.opts.ShellPath, shellArgs(p.opts.ShellPath)...)
	cmd.Dir = p.opts.Dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PS1=", "PS2=", "PROMPT_COMMAND=")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("start pty: %w", err)
	}

	shell := &ptyShell{
		handle: uuid.NewString(),
		label:  label,
		cmd:    cmd,
		ptmx:   ptmx,
		done:   make(chan struct{}),
	}

	token := "__READY_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + "__"
	ready := make(chan struct{})
	readerDone := make(chan struct{})
	go p.read(shell, token, ready, readerDone)
	go p.wait(shell, readerDone)

	// The token is split in the command so only the printed copy matches.
	half := len(token) / 2
	handshake := fmt.Sprintf("stty -echo; printf '%%s%%s\\n' '%s' '%s'\n", token[:half], token[half:])
	if _, err := ptmx.Write([]byte(handshake)); err != nil {
		p.kill(shell)
		return "", fmt.Errorf("write handshake: %w", err)
	}

	timer := time.NewTimer(p.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-shell.done:
		return "", errors.New("shell exited during startup")
	case <-timer.C:
		p.kill(shell)
		return "", fmt.Errorf("shell not ready after %s", p.opts.ReadyTimeout)
	case <-ctx.Done():
		p.kill(shell)
		return "", ctx.Err()
	}

	p.mu.Lock()
	p.shells[shell.handle] = shell
	p.mu.Unlock()
	p.log.Info("pty shell started",
		zap.String("handle", shell.handle),
		zap.String("label", label),
		zap.String("shell", p.opts.ShellPath),
		zap.Int("pid", cmd.Process.Pid))
	return shell.handle, nil
}

// shellArgs keeps bash from loading rc files and line editing, which would
// otherwise add prompts and escape sequences to the output.
func shellArgs(path string) []string {
	if filepath.Base(path) == "bash" {
		return []string{"--noprofile", "--norc", "--noediting"}
	}
	return nil
}

// Send writes text to the shell.
func (p *PTYProcess) Send(handle string, text string) error {
	shell, err := p.lookup(handle)
	if err != nil {
		return err
	}
	shell.wmu.Lock()
	defer shell.wmu.Unlock()
	if _, err := io.WriteString(shell.ptmx, text); err != nil {
		return fmt.Errorf("write to shell: %w", err)
	}
	return nil
}

// Stop sends the interrupt character to the foreground command.
func (p *PTYProcess) Stop(handle string) error {
	return p.Send(handle, interruptKey)
}

// Kill terminates the shell. No status event is emitted for it.
func (p *PTYProcess) Kill(handle string) error {
	shell, err := p.lookup(handle)
	if err != nil {
		return err
	}
	p.kill(shell)
	return nil
}

func (p *PTYProcess) kill(shell *ptyShell) {
	shell.killed.Store(true)
	if shell.cmd.Process != nil {
		_ = shell.cmd.Process.Kill()
	}
	shell.close()
	p.mu.Lock()
	delete(p.shells, shell.handle)
	p.mu.Unlock()
}

func (p *PTYProcess) lookup(handle string) (*ptyShell, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	shell, ok := p.shells[handle]
	if !ok {
		return nil, fmt.Errorf("unknown shell handle %q", handle)
	}
	return shell, nil
}

// read forwards terminal output once the ready token has been seen. Events
// are only emitted for shells that completed the handshake.
func (p *PTYProcess) read(shell *ptyShell, token string, ready chan<- struct{}, readerDone chan<- struct{}) {
	defer close(readerDone)
	buf := make([]byte, 4096)
	var pending strings.Builder
	started := false
	for {
		n, err := shell.ptmx.Read(buf)
		if n > 0 {
			chunk := strings.ReplaceAll(string(buf[:n]), "\r", "")
			if !started {
				pending.WriteString(chunk)
				text := pending.String()
				idx := strings.Index(text, token+"\n")
				if idx < 0 {
					continue
				}
				started = true
				shell.ready.Store(true)
				close(ready)
				chunk = text[idx+len(token)+1:]
				pending.Reset()
			}
			if chunk != "" && !p.emit(shell, Event{Handle: shell.handle, Kind: EventOutput, Chunk: chunk}) {
				return
			}
		}
		if err != nil {
			if started && !shell.killed.Load() && !errors.Is(err, io.EOF) && !isClosedPTY(err) {
				p.emit(shell, Event{Handle: shell.handle, Kind: EventError, Err: err})
			}
			return
		}
	}
}

// wait reports the exit status of a shell that ended on its own.
func (p *PTYProcess) wait(shell *ptyShell, readerDone <-chan struct{}) {
	err := shell.cmd.Wait()
	select {
	case <-readerDone:
	case <-time.After(time.Second):
	}
	if shell.ready.Load() && !shell.killed.Load() {
		status := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitCode()
		}
		p.log.Info("pty shell exited", zap.String("handle", shell.handle), zap.Int("status", status))
		p.mu.Lock()
		delete(p.shells, shell.handle)
		p.mu.Unlock()
		p.emit(shell, Event{Handle: shell.handle, Kind: EventStatus, Status: status})
	}
	shell.close()
}

// emit delivers an event unless the shell has been closed.
func (p *PTYProcess) emit(shell *ptyShell, event Event) bool {
	select {
	case p.events <- event:
		return true
	case <-shell.done:
		return false
	}
}

// isClosedPTY matches the errors a pty read returns after the other side
// has gone away.
func isClosedPTY(err error) bool {
	if errors.Is(err, os.ErrClosed) {
		return true
	}
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
