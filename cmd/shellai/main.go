package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shellai/shellai/internal/config"
	"github.com/shellai/shellai/internal/transcript"
)

// version is the CLI build version.
const version = "0.1.0"

// options holds the CLI flags.
type options struct {
	// ConfigPath is an explicit config file merged after user and project files.
	ConfigPath string
	// Model overrides the configured model; aliases are resolved.
	Model string
	// Print runs one prompt non-interactively and exits.
	Print bool
	// OutputFormat controls print mode output (text|json|stream-json).
	OutputFormat string
	// PermissionMode overrides the configured permission mode.
	PermissionMode string
	// NoTools disables tool calling for the session.
	NoTools bool
	// Parallel runs rounds of auto-run tools concurrently.
	Parallel bool
	// HistoryLimit overrides the configured history limit.
	HistoryLimit int
	// MaxRetries overrides the configured rate-limit retries.
	MaxRetries int
	// MaxToolRounds overrides the configured tool rounds per message.
	MaxToolRounds int
	// SystemPrompt replaces the built-in system prompt.
	SystemPrompt string
	// AddDirs are extra directories the file tools may read.
	AddDirs []string
	// NoTranscript disables the JSONL transcript.
	NoTranscript bool
	// LogFile overrides the configured log file.
	LogFile string
	// Verbose enables debug logging.
	Verbose bool
	// Version prints the CLI version.
	Version bool
}

// main wires Cobra and executes the CLI.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "shellai [prompt]",
		Short: "shellai - a terminal assistant that runs confirmed shell commands",
		Long: `shellai talks to an OpenAI-compatible model and lets it run commands in a
persistent shell. Every command is shown for confirmation before it runs and
can be stopped while it runs.

Run without arguments to start the interactive interface.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			return runRoot(cmd, opts, args)
		},
	}

	applyFlags(rootCmd.Flags(), opts)
	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file merged after the user and project files")

	rootCmd.AddCommand(doctorCommand(opts))
	rootCmd.AddCommand(initCommand())
	rootCmd.AddCommand(transcriptCommand())
	return rootCmd
}

// applyFlags defines the root command flags.
func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.SetNormalizeFunc(normalizeFlagName)

	flags.StringVarP(&opts.Model, "model", "m", "", "Model for the current session")
	flags.BoolVarP(&opts.Print, "print", "p", false, "Print the response and exit")
	flags.StringVar(&opts.OutputFormat, "output-format", "text", "Print mode output format (text|json|stream-json)")
	flags.StringVar(&opts.PermissionMode, "permission-mode", "", "Permission mode (default|bypassPermissions|plan)")
	flags.BoolVar(&opts.NoTools, "no-tools", false, "Do not offer tools to the model")
	flags.BoolVar(&opts.Parallel, "parallel-tools", false, "Run rounds of read-only tools concurrently")
	flags.IntVar(&opts.HistoryLimit, "history-limit", 0, "Conversation turns kept for the model")
	flags.IntVar(&opts.MaxRetries, "max-retries", 0, "Retries after rate limiting")
	flags.IntVar(&opts.MaxToolRounds, "max-tool-rounds", 0, "Tool rounds allowed per message")
	flags.StringVar(&opts.SystemPrompt, "system-prompt", "", "System prompt")
	flags.StringSliceVar(&opts.AddDirs, "add-dir", nil, "Additional directories the file tools may read")
	flags.BoolVar(&opts.NoTranscript, "no-transcript", false, "Do not write a session transcript")
	flags.StringVar(&opts.LogFile, "log-file", "", "Write JSON logs to a file")
	flags.BoolVar(&opts.Verbose, "verbose", false, "Debug logging")
	flags.BoolVarP(&opts.Version, "version", "v", false, "Output the version number")
}

// normalizeFlagName maps camel-case aliases to dashed names.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "permissionMode":
		return "permission-mode"
	case "noTools":
		return "no-tools"
	default:
		return pflag.NormalizedName(name)
	}
}

// runRoot loads configuration and dispatches to print or interactive mode.
func runRoot(cmd *cobra.Command, opts *options, args []string) error {
	if err := validateOptions(opts); err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.Print {
		return runPrintMode(cmd, opts, cfg, args)
	}
	if len(args) > 0 {
		return errors.New("a prompt argument requires --print")
	}
	return runInteractiveTUI(opts, cfg)
}

// validateOptions rejects flag combinations that cannot work.
func validateOptions(opts *options) error {
	switch opts.OutputFormat {
	case "", "text", "json", "stream-json":
	default:
		return fmt.Errorf("unknown output format %q", opts.OutputFormat)
	}
	if !opts.Print && opts.OutputFormat != "" && opts.OutputFormat != "text" {
		return errors.New("--output-format only works with --print")
	}
	if opts.HistoryLimit < 0 || opts.MaxRetries < 0 || opts.MaxToolRounds < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// loadConfig merges config files and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: opts.ConfigPath})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrProviderConfigMissing) {
			return nil, fmt.Errorf("provider config missing; run `shellai init` or create %s", userConfigPath())
		}
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies explicit flags over the loaded config.
func applyOverrides(cfg *config.Config, opts *options) {
	if opts.PermissionMode != "" {
		cfg.PermissionMode = opts.PermissionMode
	}
	if opts.NoTools {
		cfg.Tools.Enabled = false
	}
	if opts.Parallel {
		cfg.Tools.ParallelAutoRun = true
	}
	if opts.HistoryLimit > 0 {
		cfg.HistoryLimit = opts.HistoryLimit
	}
	if opts.MaxRetries > 0 {
		cfg.MaxRetries = opts.MaxRetries
	}
	if opts.MaxToolRounds > 0 {
		cfg.MaxToolRounds = opts.MaxToolRounds
	}
	if opts.SystemPrompt != "" {
		cfg.SystemPrompt = opts.SystemPrompt
	}
	if len(opts.AddDirs) > 0 {
		cfg.Tools.WorkspaceRoots = append(cfg.Tools.WorkspaceRoots, opts.AddDirs...)
	}
	if opts.NoTranscript {
		cfg.Transcript.Enabled = false
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
}

// userConfigPath returns the default config path or a fallback placeholder.
func userConfigPath() string {
	path, err := config.UserConfigPath()
	if err != nil {
		return "~/.shellai/config.yaml"
	}
	return path
}

// doctorCommand validates configuration and file permissions.
func doctorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check shellai configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: opts.ConfigPath})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			for _, path := range cfg.Sources {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if mode := info.Mode().Perm(); mode&0o077 != 0 && strings.Contains(mustRead(path), "api_key") {
					return fmt.Errorf("config %s holds an api key and is readable by others: %s", path, mode)
				}
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, path := range cfg.Sources {
				fmt.Fprintf(out, "config: %s\n", path)
			}
			fmt.Fprintf(out, "OK: model %s at %s\n", cfg.ResolveModel(""), cfg.APIBaseURL)
			return nil
		},
	}
}

// mustRead returns the file content or an empty string.
func mustRead(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// initCommand writes a starter user config.
func initCommand() *cobra.Command {
	var (
		baseURL string
		apiKey  string
		model   string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config to ~/.shellai/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.UserConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			cfg := config.Default()
			cfg.APIBaseURL = baseURL
			cfg.APIKey = apiKey
			cfg.DefaultModel = model
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or set SHELLAI_API_KEY)")
	cmd.Flags().StringVar(&model, "model", "gpt-4o-mini", "Default model")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

// transcriptCommand lists and prints session transcripts.
func transcriptCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transcript [id|last]",
		Short: "List transcripts or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := transcript.NewStore("")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				ids, err := store.List(limit)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return nil
					}
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			id := args[0]
			if id == "last" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				if id, err = store.LoadLast(transcript.ProjectHash(cwd)); err != nil {
					return fmt.Errorf("no transcript recorded for %s", filepath.Base(cwd))
				}
			}
			events, err := store.Load(id)
			if err != nil {
				return err
			}
			return writeTranscript(out, events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of transcripts to list")
	return cmd
}
