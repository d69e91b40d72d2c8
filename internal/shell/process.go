package shell

import "context"

// EventKind distinguishes process events.
type EventKind int

const (
	// EventOutput carries a chunk of terminal output.
	EventOutput EventKind = iota
	// EventStatus reports that the shell exited with Status.
	EventStatus
	// EventError reports a transport-level failure.
	EventError
)

// Event is emitted asynchronously by a Process.
type Event struct {
	// Handle identifies the shell the event belongs to.
	Handle string
	Kind   EventKind
	// Chunk is set for EventOutput.
	Chunk string
	// Status is set for EventStatus.
	Status int
	// Err is set for EventError.
	Err error
}

// Process is the interactive shell collaborator driven by a Session.
type Process interface {
	// Start launches a shell and returns its handle.
	Start(ctx context.Context, label string) (string, error)
	// Send writes text to the shell's input.
	Send(handle string, text string) error
	// Stop interrupts the foreground command without ending the shell.
	Stop(handle string) error
	// Kill terminates the shell.
	Kill(handle string) error
	// Events delivers output, status and error events for every handle.
	Events() <-chan Event
}
