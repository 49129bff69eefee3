// ABOUTME: Terminal client for A2A agent gateways with streaming output.
// ABOUTME: Wires config, snapshot persistence, protocol client and session controller.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parley-sh/parley/internal/config"
	"github.com/parley-sh/parley/internal/conversation"
	"github.com/parley-sh/parley/internal/directory"
	"github.com/parley-sh/parley/internal/protocol"
	"github.com/parley-sh/parley/internal/session"
	"github.com/parley-sh/parley/internal/snapshot"
)

var (
	flagConfig  string
	flagGateway string
	flagProfile string
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with agents behind an A2A gateway",
	Long: `parley is a terminal client for gateways speaking the JSON-RPC
agent-to-agent protocol. It discovers available agents, streams their
responses incrementally, and keeps conversation history across restarts.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()
		return runChat(cmd.Context(), app)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the gateway's available agents and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		agents, err := app.dir.Agents(cmd.Context())
		if err != nil {
			return fmt.Errorf("fetching agents: %w", err)
		}
		printAgents(agents)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagGateway, "gateway", "", "Gateway base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Named gateway profile from profiles.toml")
	rootCmd.AddCommand(agentsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired components for one client run.
type app struct {
	cfg   *config.Config
	store *conversation.Store
	snaps *snapshot.Store
	dir   *directory.Directory
	ctrl  *session.Controller
}

// setup loads configuration, restores the persisted snapshot, and wires the
// core: protocol client -> session controller -> conversation store ->
// snapshot persistence.
func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	slog.SetDefault(buildLogger(cfg.Logging))

	store := conversation.NewStore()

	snaps, err := snapshot.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	restored, err := snaps.Load(ctx)
	if err != nil {
		slog.Warn("could not restore conversations", "error", err)
	} else if len(restored) > 0 {
		store.Replace(restored)
	}
	store.SetOnChange(snaps.Listener())

	client := protocol.New(cfg.Gateway.BaseURL, nil, cfg.Gateway.Timeout, slog.Default())
	dir := directory.New(client, cfg.Gateway.BaseURL, 0, slog.Default())
	ctrl := session.New(store, session.WrapClient(client), slog.Default())

	return &app{
		cfg:   cfg,
		store: store,
		snaps: snaps,
		dir:   dir,
		ctrl:  ctrl,
	}, nil
}

// loadConfig resolves the effective configuration: YAML file, then profile
// overlay, then the --gateway flag.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.FindPath()
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if flagProfile != "" {
		baseURL, err := resolveProfile(flagProfile)
		if err != nil {
			return nil, err
		}
		cfg.Gateway.BaseURL = baseURL
	}
	if flagGateway != "" {
		cfg.Gateway.BaseURL = flagGateway
	}
	return cfg, nil
}

func (a *app) Close() {
	a.ctrl.CancelActive()
	if err := a.snaps.Close(); err != nil {
		slog.Warn("closing snapshot store", "error", err)
	}
}

// buildLogger constructs the slog handler from logging config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// printAgents renders the agent list with capability markers.
func printAgents(agents []directory.Descriptor) {
	if len(agents) == 0 {
		fmt.Println("No agents available")
		return
	}

	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	fmt.Println("Available agents:")
	for _, a := range agents {
		caps := "sync"
		if a.Streaming {
			caps = "streaming"
		}
		bold.Printf("  %s", a.ID)
		fmt.Printf(": %s [%s]\n", a.Name, caps)
		if a.Description != "" {
			dim.Printf("      %s\n", a.Description)
		}
	}
}
