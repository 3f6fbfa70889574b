package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nous-labs/scribe/internal/daemon"
	"github.com/nous-labs/scribe/internal/dispatch"
	"github.com/nous-labs/scribe/internal/llm"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
	planUser   string
)

var rootCmd = &cobra.Command{
	Use:           "scribe",
	Short:         "Natural-language notes, tasks and calendar assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel, logJSON)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon (Matrix channel, HTTP API, reminders)",
	RunE:  runServe,
}

var planCmd = &cobra.Command{
	Use:   "plan <text>",
	Short: "Dry-run the planning stages and print the decision and plan",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scribe %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SCRIBE_CONFIG_PATH"), "Path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	planCmd.Flags().StringVarP(&planUser, "user", "u", "cli", "User ID whose profile and history to use")

	rootCmd.AddCommand(serveCmd, planCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func setupLogging(level string, asJSON bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if asJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// newGenerator builds the configured generation service.
func newGenerator(ctx context.Context, cfg daemon.ModelConfig) (llm.Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return llm.NewGemini(ctx, cfg.APIKey, cfg.Model)
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return llm.NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "openai":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider needs base_url")
		}
		return llm.NewOpenAICompat("openai", cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "scripted":
		// Offline mode: every call fails, so replies degrade deterministically.
		return llm.NewScripted(), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

func build(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("model provider: %w", err)
	}
	return daemon.New(gen, cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := build(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	slog.Info("scribe starting", "version", version, "commit", commit, "store", d.Store().Stats(ctx))
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("daemon: %w", err)
	}
	slog.Info("scribe stopped")
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d, err := build(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	out, dec := d.DryRun(ctx, planUser, strings.Join(args, " "))

	label := color.New(color.Bold)
	switch dec.Kind {
	case dispatch.Execute:
		label.Add(color.FgGreen)
	case dispatch.Clarify:
		label.Add(color.FgYellow)
	default:
		label.Add(color.FgRed)
	}
	fmt.Printf("%s %s", label.Sprint(strings.ToUpper(string(dec.Kind))), dec.Plan.Method)
	if dec.Reason != "" {
		fmt.Printf(" %s", color.HiBlackString("(%s)", dec.Reason))
	}
	fmt.Println()
	fmt.Printf("intent: %s/%s %.2f", out.Intent.Topic, out.Intent.Kind, out.Intent.Confidence)
	if out.Review != nil {
		fmt.Printf("  review: %.2f", out.Review.Quality)
	}
	fmt.Println()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(dec.Plan)
}
