package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/shellai/shellai/internal/agent"
	"github.com/shellai/shellai/internal/config"
	"github.com/shellai/shellai/internal/conversation"
	"github.com/shellai/shellai/internal/llm/openai"
	"github.com/shellai/shellai/internal/logging"
	"github.com/shellai/shellai/internal/shell"
	"github.com/shellai/shellai/internal/tools"
	"github.com/shellai/shellai/internal/transcript"
)

// appHooks connects a front end to the session. All fields are optional.
type appHooks struct {
	// Agent observes the conversation loop.
	Agent agent.Callbacks
	// OnExecution fires when a command awaits confirmation.
	OnExecution func(*shell.Execution)
	// OnUpdate fires when a command produces output or changes state.
	OnUpdate func(*shell.Execution)
	// OnWait reports the rate-limit countdown.
	OnWait func(remaining int, attempt int)
}

// app is one wired shellai session.
type app struct {
	cfg          *config.Config
	log          *zap.Logger
	model        string
	cwd          string
	mode         tools.PermissionMode
	session      *shell.Session
	router       *tools.Router
	orchestrator *agent.Orchestrator
	recorder     *transcript.Recorder
}

// newApp builds the transport, shell session, tools and orchestrator.
func newApp(cfg *config.Config, flagModel string, hooks appHooks) (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get cwd: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	mode, err := tools.ParsePermissionMode(cfg.PermissionMode)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   logger,
		model: cfg.ResolveModel(flagModel),
		cwd:   cwd,
		mode:  mode,
	}
	if cfg.Transcript.Enabled {
		a.recorder = a.startTranscript()
	}

	client := openai.NewClient(cfg.APIBaseURL, cfg.APIKey, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	transport := openai.NewTransport(client, openai.TransportOptions{
		MaxRetries:   cfg.MaxRetries,
		FallbackWait: time.Duration(cfg.RateLimitWaitSeconds) * time.Second,
		OnWait:       hooks.OnWait,
		Logger:       logger.Named("transport"),
	})

	proc := shell.NewPTYProcess(shell.PTYOptions{
		ShellPath: cfg.Shell.Path,
		Dir:       cwd,
		Logger:    logger.Named("pty"),
	})
	a.session = shell.NewSession(proc, shell.Options{
		Label:       cfg.Shell.Label,
		Logger:      logger.Named("shell"),
		AutoConfirm: mode == tools.PermissionBypass,
		OnExecution: hooks.OnExecution,
		OnUpdate: func(exec *shell.Execution) {
			if hooks.OnUpdate != nil {
				hooks.OnUpdate(exec)
			}
			a.recorder.Execution(exec.Snapshot())
		},
	})

	shellName := shellLabel(cfg.Shell.Path)
	catalog := buildCatalog(cfg, cwd, shellName)
	a.router = tools.NewRouter(catalog, a.session, tools.RouterOptions{
		Permissions:     tools.Permissions{Mode: mode},
		ParallelAutoRun: cfg.Tools.ParallelAutoRun,
		Logger:          logger.Named("tools"),
	})

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		pc := agent.PromptContext{Shell: shellName, Dir: cwd, OS: runtime.GOOS}
		if cfg.Tools.Enabled {
			pc.ToolNames = catalog.Names()
			if _, ok := catalog.Lookup(tools.ShellToolName); ok {
				pc.CommandTool = tools.ShellToolName
			}
		}
		systemPrompt = agent.DefaultSystemPrompt(pc)
	}

	callbacks := hooks.Agent
	onTurn := callbacks.OnTurn
	callbacks.OnTurn = func(turn conversation.Turn) {
		a.recorder.Turn(turn)
		if onTurn != nil {
			onTurn(turn)
		}
	}
	onUsage := callbacks.OnUsage
	callbacks.OnUsage = func(request openai.Usage, total openai.Usage) {
		a.recorder.Usage(request)
		if onUsage != nil {
			onUsage(request, total)
		}
	}

	a.orchestrator = agent.NewOrchestrator(agent.Options{
		Transport:     transport,
		Router:        a.router,
		Model:         a.model,
		SystemPrompt:  systemPrompt,
		ToolsEnabled:  cfg.Tools.Enabled,
		HistoryLimit:  cfg.HistoryLimit,
		MaxToolRounds: cfg.MaxToolRounds,
		Closer:        a.session,
		Callbacks:     callbacks,
		Logger:        logger.Named("agent"),
	})
	logger.Info("session ready",
		zap.String("model", a.model),
		zap.String("permission_mode", string(mode)),
		zap.Strings("tools", catalog.Names()),
		zap.Strings("config", cfg.Sources))
	return a, nil
}

// startTranscript opens the JSONL transcript. Failures only disable it.
func (a *app) startTranscript() *transcript.Recorder {
	store, err := transcript.NewStore(a.cfg.Transcript.Dir)
	if err != nil {
		a.log.Warn("transcript disabled", zap.Error(err))
		return nil
	}
	recorder := transcript.NewRecorder(store, a.model, a.cwd)
	recorder.OnError = func(err error) {
		a.log.Warn("transcript write failed", zap.Error(err))
	}
	if err := store.SaveLast(transcript.ProjectHash(a.cwd), recorder.ID); err != nil {
		a.log.Warn("save last transcript", zap.Error(err))
	}
	return recorder
}

// Close stops the conversation, kills the shell and flushes logs.
func (a *app) Close() error {
	err := a.orchestrator.Close()
	_ = a.log.Sync()
	return err
}

// buildCatalog assembles the tools offered to the model.
func buildCatalog(cfg *config.Config, cwd string, shellName string) *tools.Catalog {
	workspace := tools.NewWorkspace(cwd, cfg.Tools.WorkspaceRoots...)
	autoRun := tools.FilterTools([]tools.Tool{
		&tools.WebFetchTool{},
		&tools.WebSearchTool{BaseURL: cfg.Tools.WebSearchURL, BraveAPIKey: cfg.Tools.BraveAPIKey},
		&tools.ReadTool{Workspace: workspace},
		&tools.GlobTool{Workspace: workspace},
		&tools.GrepTool{Workspace: workspace},
		&tools.ListDirTool{Workspace: workspace},
	}, cfg.Tools.Disabled)

	var privileged tools.Spec
	if !slices.Contains(cfg.Tools.Disabled, tools.ShellToolName) {
		privileged = &tools.ShellTool{ShellName: shellName}
	}
	return tools.NewCatalog(privileged, autoRun...)
}

// shellLabel names the shell for the model.
func shellLabel(path string) string {
	if path == "" {
		path = os.Getenv("SHELL")
	}
	if path == "" {
		return "bash"
	}
	return filepath.Base(path)
}
