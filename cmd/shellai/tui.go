package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/shellai/shellai/internal/agent"
	"github.com/shellai/shellai/internal/config"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/shell"
	"github.com/shellai/shellai/internal/tools"
)

// maxActivity bounds the entries kept in the commands pane.
const maxActivity = 200

// tuiMessage is a rendered chat entry in the interactive UI.
type tuiMessage struct {
	// Role labels the message origin (user, assistant, system).
	Role string
	// Content is the message text displayed in the chat viewport.
	Content string
}

// textDeltaMsg carries streamed text chunks into the TUI event loop.
type textDeltaMsg struct {
	Text string
}

// stateMsg reports an orchestrator state transition.
type stateMsg struct {
	State agent.State
}

// toolCallMsg announces a tool call before it runs.
type toolCallMsg struct {
	Call openai.ToolCallRequest
	Kind tools.Kind
}

// toolResultMsg carries a finished tool call.
type toolResultMsg struct {
	Result tools.Result
}

// executionMsg announces a command awaiting confirmation.
type executionMsg struct {
	Exec *shell.Execution
}

// executionUpdateMsg signals new output or a state change of a command.
type executionUpdateMsg struct {
	Exec *shell.Execution
}

// waitMsg reports the rate-limit countdown.
type waitMsg struct {
	Remaining int
	Attempt   int
}

// usageMsg reports token usage after a request.
type usageMsg struct {
	Total openai.Usage
}

// runDoneMsg signals that Send returned.
type runDoneMsg struct {
	Result *agent.RunResult
	Err    error
}

// conversationRunner is the part of the orchestrator the UI drives.
type conversationRunner interface {
	Send(ctx context.Context, text string) (*agent.RunResult, error)
	Abort()
}

// eventSink forwards callbacks from worker goroutines into the UI loop.
type eventSink struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan tea.Msg, 256), done: make(chan struct{})}
}

// send delivers msg unless the UI has shut down.
func (s *eventSink) send(msg tea.Msg) {
	select {
	case s.ch <- msg:
	case <-s.done:
	}
}

func (s *eventSink) close() {
	s.once.Do(func() { close(s.done) })
}

// hooks routes every app callback into the sink.
func (s *eventSink) hooks() appHooks {
	return appHooks{
		Agent: agent.Callbacks{
			OnState:     func(state agent.State) { s.send(stateMsg{State: state}) },
			OnTextDelta: func(text string) { s.send(textDeltaMsg{Text: text}) },
			OnUsage: func(_ openai.Usage, total openai.Usage) {
				s.send(usageMsg{Total: total})
			},
			OnToolCall: func(call openai.ToolCallRequest, kind tools.Kind) {
				s.send(toolCallMsg{Call: call, Kind: kind})
			},
			OnToolResult: func(result tools.Result) { s.send(toolResultMsg{Result: result}) },
		},
		OnExecution: func(exec *shell.Execution) { s.send(executionMsg{Exec: exec}) },
		OnUpdate:    func(exec *shell.Execution) { s.send(executionUpdateMsg{Exec: exec}) },
		OnWait: func(remaining int, attempt int) {
			s.send(waitMsg{Remaining: remaining, Attempt: attempt})
		},
	}
}

// activityEntry is one line group in the commands pane: a command or a
// tool event.
type activityEntry struct {
	Exec *shell.Execution
	Line string
}

// tuiOptions configures the interactive model.
type tuiOptions struct {
	Runner         conversationRunner
	Model          string
	PermissionMode string
	TranscriptID   string
}

// tuiModel drives the interactive terminal UI.
type tuiModel struct {
	opts tuiOptions
	sink *eventSink

	// chatMessages holds display-friendly message entries.
	chatMessages []tuiMessage
	// activity lists commands and tool events, oldest first.
	activity []activityEntry
	// pending are commands awaiting confirmation, oldest first.
	pending []*shell.Execution
	// inputHistory stores prior user inputs for recall.
	inputHistory []string
	historyIndex int
	historyDraft string

	chatView         viewport.Model
	toolView         viewport.Model
	input            textarea.Model
	spinner          spinner.Model
	markdownRenderer *glamour.TermRenderer

	statusText     string
	waitText       string
	state          agent.State
	usage          openai.Usage
	chatAutoScroll bool
	toolAutoScroll bool
	width          int
	height         int
	activePane     string
	running        bool
	streamBuffer   strings.Builder
	cancel         context.CancelFunc
	quitting       bool
}

// runInteractiveTUI starts the full-screen terminal UI.
func runInteractiveTUI(opts *options, cfg *config.Config) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("interactive mode requires a TTY; use --print")
	}
	sink := newEventSink()
	application, err := newApp(cfg, opts.Model, sink.hooks())
	if err != nil {
		return err
	}

	tuiOpts := tuiOptions{
		Runner:         application.orchestrator,
		Model:          application.model,
		PermissionMode: string(application.mode),
	}
	if application.recorder != nil {
		tuiOpts.TranscriptID = application.recorder.ID
	}
	program := tea.NewProgram(newTUIModel(tuiOpts, sink), tea.WithAltScreen())
	_, runErr := program.Run()

	// Release blocked callbacks before the session resolves its commands.
	sink.close()
	if err := application.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// newTUIModel constructs the initial TUI model state.
func newTUIModel(opts tuiOptions, sink *eventSink) *tuiModel {
	input := textarea.New()
	input.Placeholder = "Ask for something to do..."
	input.Focus()
	input.CharLimit = 0
	input.Prompt = "> "
	input.SetHeight(3)
	input.SetWidth(20)

	chatView := viewport.New(20, 10)
	toolView := viewport.New(20, 10)
	toolView.SetContent("No commands yet.")

	var renderer *glamour.TermRenderer
	if glam, err := glamour.NewTermRenderer(glamour.WithAutoStyle()); err == nil {
		renderer = glam
	}

	return &tuiModel{
		opts:             opts,
		sink:             sink,
		chatView:         chatView,
		toolView:         toolView,
		input:            input,
		spinner:          spinner.New(spinner.WithSpinner(spinner.Dot)),
		markdownRenderer: renderer,
		statusText:       "Enter: send | y/n: confirm command | Ctrl+X: stop command | Ctrl+C: stop | Ctrl+Q: quit",
		activePane:       "input",
		chatAutoScroll:   true,
		toolAutoScroll:   true,
	}
}

// Init starts the cursor blink and the event listener.
func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.listenEvents())
}

// Update handles UI events and agent updates.
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(typed)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(typed)
	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case textDeltaMsg:
		if m.running {
			m.waitText = ""
			m.streamBuffer.WriteString(typed.Text)
			m.refreshChat()
		}
		return m, m.listenEvents()
	case stateMsg:
		m.state = typed.State
		m.waitText = ""
		return m, m.listenEvents()
	case usageMsg:
		m.usage = typed.Total
		return m, m.listenEvents()
	case waitMsg:
		m.waitText = fmt.Sprintf("Rate limited, retrying in %ds (attempt %d)", typed.Remaining, typed.Attempt)
		return m, m.listenEvents()
	case toolCallMsg:
		m.appendToolCall(typed.Call, typed.Kind)
		return m, m.listenEvents()
	case toolResultMsg:
		m.appendToolResult(typed.Result)
		return m, m.listenEvents()
	case executionMsg:
		m.addExecution(typed.Exec)
		return m, m.listenEvents()
	case executionUpdateMsg:
		m.updateExecution(typed.Exec)
		return m, m.listenEvents()
	case runDoneMsg:
		m.finishRun(typed.Result, typed.Err)
		return m, m.listenEvents()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the full UI layout.
func (m *tuiModel) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderBody(), m.renderInput(), m.renderStatus())
}

// listenEvents waits for the next callback message.
func (m *tuiModel) listenEvents() tea.Cmd {
	if m.sink == nil {
		return nil
	}
	ch, done := m.sink.ch, m.sink.done
	return func() tea.Msg {
		select {
		case msg := <-ch:
			return msg
		case <-done:
			return nil
		}
	}
}

// handleKey routes keyboard input and command submission.
func (m *tuiModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if len(m.pending) > 0 {
		switch strings.ToLower(key.String()) {
		case "y", "enter":
			return m, m.resolvePending(true)
		case "n", "esc":
			return m, m.resolvePending(false)
		}
	}

	switch key.String() {
	case "ctrl+c":
		if m.running {
			m.stopRun("Stopping...")
			return m, nil
		}
		return m.quit()
	case "ctrl+q":
		return m.quit()
	case "ctrl+x":
		return m, m.stopActiveCommand()
	case "tab":
		m.cyclePane(1)
		return m, nil
	case "shift+tab":
		m.cyclePane(-1)
		return m, nil
	case "esc":
		m.setActivePane("input")
		return m, nil
	case "pgup":
		m.scrollActivePane(-10)
		return m, nil
	case "pgdown":
		m.scrollActivePane(10)
		return m, nil
	case "home":
		m.gotoActivePaneTop()
		return m, nil
	case "end":
		m.gotoActivePaneBottom()
		return m, nil
	case "ctrl+p":
		if m.activePane == "input" {
			m.cycleInputHistory(-1)
			return m, nil
		}
	case "ctrl+n":
		if m.activePane == "input" {
			m.cycleInputHistory(1)
			return m, nil
		}
	}

	if key.Type == tea.KeyEnter {
		if key.Alt {
			m.input.InsertString("\n")
			return m, nil
		}
		return m.submitInput()
	}

	if key.String() == "ctrl+j" {
		m.input.InsertString("\n")
		return m, nil
	}

	if m.activePane != "input" {
		switch key.String() {
		case "up":
			m.scrollActivePane(-1)
			return m, nil
		case "down":
			m.scrollActivePane(1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

// quit stops any run and exits the program.
func (m *tuiModel) quit() (tea.Model, tea.Cmd) {
	if m.running {
		m.stopRun("")
	}
	m.quitting = true
	return m, tea.Quit
}

// submitInput sends the current input as a new user message.
func (m *tuiModel) submitInput() (tea.Model, tea.Cmd) {
	if m.running {
		m.statusText = "Wait for the current response or stop it with Ctrl+C."
		return m, nil
	}
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}
	m.input.SetValue("")
	m.statusText = ""
	m.appendInputHistory(value)

	m.appendMessage("user", value)
	m.running = true
	m.streamBuffer.Reset()
	m.refreshChat()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	return m, tea.Batch(m.startRun(ctx, value), m.spinner.Tick)
}

// startRun calls Send off the UI loop. The result goes through the sink so
// it arrives after every callback of the run.
func (m *tuiModel) startRun(ctx context.Context, text string) tea.Cmd {
	runner := m.opts.Runner
	sink := m.sink
	return func() tea.Msg {
		if runner == nil {
			sink.send(runDoneMsg{Err: errors.New("runner is required")})
			return nil
		}
		result, err := runner.Send(ctx, text)
		sink.send(runDoneMsg{Result: result, Err: err})
		return nil
	}
}

// finishRun appends the final assistant message and resets run state.
func (m *tuiModel) finishRun(result *agent.RunResult, err error) {
	m.running = false
	m.waitText = ""
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	streamed := m.streamBuffer.String()
	m.streamBuffer.Reset()

	switch {
	case err != nil:
		m.statusText = formatRunError(err)
		if streamed != "" {
			m.appendMessage("assistant", streamed)
		}
	case result == nil:
		m.statusText = ""
	case result.State == agent.StateFinal:
		m.statusText = ""
		text := result.Text
		if text == "" {
			text = streamed
		}
		m.appendMessage("assistant", text)
	case result.State == agent.StateAborted:
		m.statusText = "Stopped."
		if streamed != "" {
			m.appendMessage("assistant", streamed)
		}
	default:
		m.statusText = result.Text
	}
	m.refreshChat()
	m.refreshTools()
}

// stopRun aborts the conversation. Running and pending commands are stopped
// through the cancelled context.
func (m *tuiModel) stopRun(reason string) {
	if m.opts.Runner != nil {
		m.opts.Runner.Abort()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.pending = nil
	m.input.Focus()
	m.statusText = reason
}

// resolvePending confirms or rejects the oldest pending command. The
// execution is resolved off the UI loop since it calls back into the sink.
func (m *tuiModel) resolvePending(allow bool) tea.Cmd {
	exec := m.pending[0]
	m.pending = m.pending[1:]
	if len(m.pending) == 0 {
		m.input.Focus()
	}
	if allow {
		m.statusText = "Running: " + truncateForDisplay(exec.Command(), 80)
	} else {
		m.statusText = "Command rejected."
	}
	m.refreshTools()
	return func() tea.Msg {
		if allow {
			exec.Confirm()
		} else {
			exec.Stop()
		}
		return nil
	}
}

// stopActiveCommand interrupts the running command, if any. The model
// receives the partial output.
func (m *tuiModel) stopActiveCommand() tea.Cmd {
	for i := len(m.activity) - 1; i >= 0; i-- {
		exec := m.activity[i].Exec
		if exec != nil && exec.Status() == shell.StatusRunning {
			m.statusText = "Stopping command..."
			return func() tea.Msg {
				exec.Stop()
				return nil
			}
		}
	}
	return nil
}

// addExecution records a command that awaits confirmation.
func (m *tuiModel) addExecution(exec *shell.Execution) {
	if exec == nil {
		return
	}
	m.appendActivity(activityEntry{Exec: exec})
	if exec.Status() == shell.StatusAwaitingConfirmation {
		m.pending = append(m.pending, exec)
		m.input.Blur()
		m.statusText = fmt.Sprintf("Run `%s`? [y/N]", truncateForDisplay(exec.Command(), 80))
	}
	m.refreshTools()
}

// updateExecution refreshes a command and drops it from the pending queue
// once it no longer awaits confirmation.
func (m *tuiModel) updateExecution(exec *shell.Execution) {
	if exec == nil {
		return
	}
	if exec.Status() != shell.StatusAwaitingConfirmation {
		kept := m.pending[:0]
		for _, pending := range m.pending {
			if pending != exec {
				kept = append(kept, pending)
			}
		}
		m.pending = kept
		if len(m.pending) == 0 {
			m.input.Focus()
		}
	}
	m.refreshTools()
}

// appendToolCall records an auto-run tool call. Commands are shown through
// their executions instead.
func (m *tuiModel) appendToolCall(call openai.ToolCallRequest, kind tools.Kind) {
	if kind == tools.KindPrivileged {
		return
	}
	m.appendActivity(activityEntry{Line: "-> " + describeCall(call)})
	m.refreshTools()
}

// appendToolResult records the outcome of an auto-run tool.
func (m *tuiModel) appendToolResult(result tools.Result) {
	if result.Kind == tools.KindPrivileged && !result.IsError {
		return
	}
	status := "completed"
	if result.IsError {
		status = "failed"
	}
	m.appendActivity(activityEntry{Line: fmt.Sprintf("%s: %s", result.Name, status)})
	if summary := summarizeToolOutput(result.Output, 160); summary != "" {
		m.appendActivity(activityEntry{Line: "  " + summary})
	}
	m.refreshTools()
}

func (m *tuiModel) appendActivity(entry activityEntry) {
	m.activity = append(m.activity, entry)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
}

// appendInputHistory records an input line for history navigation.
func (m *tuiModel) appendInputHistory(value string) {
	m.inputHistory = append(m.inputHistory, value)
	if len(m.inputHistory) > 200 {
		m.inputHistory = m.inputHistory[len(m.inputHistory)-200:]
	}
	m.historyIndex = len(m.inputHistory)
	m.historyDraft = ""
}

// cycleInputHistory moves the input buffer through stored history entries.
func (m *tuiModel) cycleInputHistory(delta int) {
	if len(m.inputHistory) == 0 {
		return
	}
	if m.historyIndex == len(m.inputHistory) {
		m.historyDraft = m.input.Value()
	}
	next := min(max(m.historyIndex+delta, 0), len(m.inputHistory))
	m.historyIndex = next
	if m.historyIndex == len(m.inputHistory) {
		m.input.SetValue(m.historyDraft)
		return
	}
	m.input.SetValue(m.inputHistory[m.historyIndex])
}

// appendMessage adds a new chat message to the display list.
func (m *tuiModel) appendMessage(role string, content string) {
	m.chatMessages = append(m.chatMessages, tuiMessage{Role: role, Content: content})
}

// refreshChat rebuilds the chat viewport content.
func (m *tuiModel) refreshChat() {
	var builder strings.Builder
	for _, msg := range m.chatMessages {
		builder.WriteString(m.renderMessage(msg, false))
		builder.WriteString("\n\n")
	}
	if m.running {
		if streamText := m.streamBuffer.String(); streamText != "" {
			builder.WriteString(m.renderMessage(tuiMessage{Role: "assistant", Content: streamText}, true))
			builder.WriteString("\n\n")
		}
	}
	m.chatView.SetContent(builder.String())
	if m.chatAutoScroll {
		m.chatView.GotoBottom()
	}
}

// refreshTools rebuilds the commands pane.
func (m *tuiModel) refreshTools() {
	if len(m.activity) == 0 {
		m.toolView.SetContent("No commands yet.")
		return
	}
	m.toolView.SetContent(m.renderActivity())
	if m.toolAutoScroll {
		m.toolView.GotoBottom()
	}
}

// renderActivity formats commands with their latest output.
func (m *tuiModel) renderActivity() string {
	lines := make([]string, 0, len(m.activity))
	for _, entry := range m.activity {
		if entry.Exec == nil {
			lines = append(lines, entry.Line)
			continue
		}
		snap := entry.Exec.Snapshot()
		lines = append(lines, fmt.Sprintf("[%s] $ %s", statusLabel(snap.Status), snap.Command))
		for _, line := range tailLines(snap.Output, 6) {
			lines = append(lines, "  "+line)
		}
	}
	return strings.Join(lines, "\n")
}

// tailLines returns the last n non-empty lines of text.
func tailLines(text string, n int) []string {
	raw := strings.Split(strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), "\n")
	lines := raw[:0]
	for _, line := range raw {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// applyWindowSize recalculates the layout for a new window size.
func (m *tuiModel) applyWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 1
	statusHeight := 1
	inputHeight := m.input.Height() + 2
	bodyHeight := max(m.height-headerHeight-statusHeight-inputHeight, 4)

	toolWidth := min(max(28, m.width*2/5), 80)
	chatWidth := m.width - toolWidth - 3
	if chatWidth < 20 {
		chatWidth = 20
		toolWidth = max(20, m.width-chatWidth-3)
	}

	m.chatView.Width = chatWidth - 2
	m.chatView.Height = bodyHeight - 3
	m.toolView.Width = toolWidth - 2
	m.toolView.Height = bodyHeight - 3
	m.input.SetWidth(m.width - 4)

	m.refreshChat()
	m.refreshTools()
}

// renderHeader builds the top status line.
func (m *tuiModel) renderHeader() string {
	style := lipgloss.NewStyle().Bold(true)
	header := fmt.Sprintf("shellai | model %s", m.opts.Model)
	if m.opts.TranscriptID != "" {
		header += " | transcript " + m.opts.TranscriptID[:min(8, len(m.opts.TranscriptID))]
	}
	if m.running {
		header += " | " + m.spinner.View() + " " + m.state.String()
	}
	return style.Render(padRight(header, m.width))
}

// renderBody composes the chat and commands panes.
func (m *tuiModel) renderBody() string {
	chat := m.renderPane("Conversation", m.chatView.View(), m.chatView.Width+2, m.activePane == "chat")
	commands := m.renderPane("Commands", m.toolView.View(), m.toolView.Width+2, m.activePane == "commands")
	return lipgloss.JoinHorizontal(lipgloss.Top, chat, commands)
}

// setActivePane updates focus and input state for the requested pane.
func (m *tuiModel) setActivePane(pane string) {
	switch pane {
	case "chat", "commands":
		m.activePane = pane
		m.input.Blur()
	default:
		m.activePane = "input"
		if len(m.pending) == 0 {
			m.input.Focus()
		}
	}
}

// cyclePane moves focus between input, chat and commands.
func (m *tuiModel) cyclePane(delta int) {
	order := []string{"input", "chat", "commands"}
	index := 0
	for i, name := range order {
		if name == m.activePane {
			index = i
			break
		}
	}
	next := (index + delta) % len(order)
	if next < 0 {
		next += len(order)
	}
	m.setActivePane(order[next])
}

// scrollActivePane scrolls the currently focused pane.
func (m *tuiModel) scrollActivePane(delta int) {
	view, auto := m.activeView()
	if view == nil {
		return
	}
	*auto = false
	if delta > 0 {
		view.LineDown(delta)
	} else {
		view.LineUp(-delta)
	}
}

// gotoActivePaneTop moves the active pane to the top.
func (m *tuiModel) gotoActivePaneTop() {
	if view, auto := m.activeView(); view != nil {
		view.GotoTop()
		*auto = false
	}
}

// gotoActivePaneBottom moves the active pane to the bottom.
func (m *tuiModel) gotoActivePaneBottom() {
	if view, auto := m.activeView(); view != nil {
		view.GotoBottom()
		*auto = true
	}
}

func (m *tuiModel) activeView() (*viewport.Model, *bool) {
	switch m.activePane {
	case "chat":
		return &m.chatView, &m.chatAutoScroll
	case "commands":
		return &m.toolView, &m.toolAutoScroll
	default:
		return nil, nil
	}
}

// renderInput returns the input box rendering.
func (m *tuiModel) renderInput() string {
	style := lipgloss.NewStyle().Border(m.border()).Padding(0, 1)
	return style.Render(m.input.View())
}

// renderStatus returns the bottom status line.
func (m *tuiModel) renderStatus() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	if len(m.pending) > 0 {
		style = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	}
	text := m.statusText
	if m.waitText != "" {
		text = m.waitText
	}
	if text == "" {
		text = "Ready"
	}
	if info := m.renderStatusInfo(); info != "" {
		text = fmt.Sprintf("%s | %s", text, info)
	}
	return style.Render(padRight(text, m.width))
}

// renderStatusInfo assembles auxiliary status information.
func (m *tuiModel) renderStatusInfo() string {
	parts := []string{}
	if m.opts.PermissionMode != "" {
		parts = append(parts, "perm:"+m.opts.PermissionMode)
	}
	if len(m.pending) > 1 {
		parts = append(parts, fmt.Sprintf("pending:%d", len(m.pending)))
	}
	if usage := formatUsage(m.usage); usage != "" {
		parts = append(parts, usage)
	}
	return strings.Join(parts, " ")
}

// renderPane formats a bordered pane with a title.
func (m *tuiModel) renderPane(title string, content string, width int, focused bool) string {
	style := lipgloss.NewStyle().Border(m.border()).Padding(0, 1)
	if focused {
		style = style.BorderForeground(lipgloss.Color("39"))
	}
	header := fmt.Sprintf("[%s]", title)
	pane := lipgloss.JoinVertical(lipgloss.Left, header, content)
	return style.Width(width).Render(pane)
}

// renderMessage formats a chat message for display.
func (m *tuiModel) renderMessage(message tuiMessage, streaming bool) string {
	label := strings.ToUpper(message.Role)
	content := message.Content
	style := lipgloss.NewStyle()
	switch message.Role {
	case "user":
		style = style.Foreground(lipgloss.Color("39")).Bold(true)
		label = "YOU"
	case "assistant":
		style = style.Foreground(lipgloss.Color("10")).Bold(true)
		label = "SHELLAI"
	case "system":
		style = style.Foreground(lipgloss.Color("3"))
		label = "SYSTEM"
	}
	if !streaming && message.Role == "assistant" {
		content = m.renderMarkdown(content)
	}
	return fmt.Sprintf("%s\n%s", style.Render(label+":"), content)
}

// renderMarkdown converts markdown into terminal-friendly output when possible.
func (m *tuiModel) renderMarkdown(content string) string {
	if m.markdownRenderer == nil {
		return content
	}
	rendered, err := m.markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}

// border defines a simple ASCII border.
func (m *tuiModel) border() lipgloss.Border {
	return lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}
}

// padRight pads a string with spaces to the target width.
func padRight(value string, width int) string {
	runes := []rune(value)
	if len(runes) >= width {
		return value
	}
	return value + strings.Repeat(" ", width-len(runes))
}
