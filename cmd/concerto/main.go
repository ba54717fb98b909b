// Command concerto runs the multi-worker collaboration engine.
//
// Usage:
//
//	concerto serve --config concerto.yaml
//	concerto run --config concerto.yaml --topology debate "Design a rate limiter"
//	concerto validate --config concerto.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/config"
	"github.com/concertohq/concerto/pkg/engine"
	"github.com/concertohq/concerto/pkg/logger"
	"github.com/concertohq/concerto/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Run      RunCmd      `cmd:"" help:"Run one collaboration and print its result."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"concerto.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text, json)." default:"text"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("concerto version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := engine.NewRuntime(cfg, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	srv := server.New(rt.Engine, cfg.Server.Address(),
		server.WithMetrics(rt.Metrics),
		server.WithAuditStore(rt.Store),
	)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
		cancel()
	}()

	fmt.Printf("concerto server ready\n")
	fmt.Printf("   API:     http://%s/v1/collaborations\n", cfg.Server.Address())
	fmt.Printf("   Health:  http://%s/healthz\n", cfg.Server.Address())
	fmt.Printf("   Metrics: http://%s/metrics\n", cfg.Server.Address())
	fmt.Printf("   Workers: %d configured\n", len(cfg.Workers))
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start()
}

// RunCmd runs one collaboration from the command line and prints the result.
type RunCmd struct {
	Task     string   `arg:"" help:"The task to execute."`
	Topology string   `help:"Coordination topology (sequential, parallel, debate, critique). Empty lets the planner decide."`
	Workers  []string `help:"Worker identifiers, in order."`
	Rounds   int      `help:"Debate rounds." default:"0"`
	Iters    int      `help:"Critique iterations." default:"0"`
}

func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	rt, err := engine.NewRuntime(cfg, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer func() { _ = rt.Close() }()

	params := make(map[string]any)
	if c.Rounds > 0 {
		params["rounds"] = c.Rounds
	}
	if c.Iters > 0 {
		params["iterations"] = c.Iters
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created, err := rt.Engine.Create(ctx, engine.CreateRequest{
		Task:     c.Task,
		Topology: collab.Topology(c.Topology),
		Workers:  c.Workers,
		Params:   params,
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("stopping collaboration", "collaboration", created.ID)
		_ = rt.Engine.Stop(created.ID)
	}()

	result, err := rt.Engine.Run(ctx, created.ID)
	if err != nil {
		return err
	}
	fmt.Println(result.Output)
	return nil
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := loadConfig(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("concerto"),
		kong.Description("Multi-worker collaboration engine"),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
