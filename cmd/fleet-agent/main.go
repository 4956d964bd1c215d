// ABOUTME: Entry point for the fleet node agent
// ABOUTME: Connects to the controller and executes commands, reconnecting with backoff

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/2389/coven-fleet/internal/agent"
	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/logging"
)

// Version is set at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("fleet-agent", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file (default $FLEET_CONFIG, then config.yaml if present)")
	controllerAddr := fs.String("controller", "", "controller address host:port")
	name := fs.String("name", "", "node name (default host name)")
	osName := fs.String("os", "", "announced operating system (default detected)")
	address := fs.String("address", "", "announced address (default primary IPv4)")
	shell := fs.String("shell", "", `command interpreter and flag, e.g. "bash -c"`)
	once := fs.Bool("once", false, "exit when the session ends instead of reconnecting")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println("fleet-agent", version)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	ac := &cfg.Agent
	override(&ac.ControllerAddr, *controllerAddr)
	override(&ac.Name, *name)
	override(&ac.OS, *osName)
	override(&ac.Address, *address)
	override(&ac.Shell, *shell)
	if ac.ControllerAddr == "" {
		return errors.New("no controller address: set agent.controller_addr or pass --controller")
	}

	logger, closer, err := logging.Setup(cfg.Logging, cfg.LogPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	a := agent.New(agent.ConfigFrom(cfg), logger)
	logger.Info("starting fleet-agent",
		"version", version,
		"node", a.Name(),
		"controller", ac.ControllerAddr,
	)

	if *once {
		return a.Run(ctx)
	}
	return a.RunWithReconnect(ctx, ac.ReconnectMin, ac.ReconnectMax)
}

// loadConfig reads the named or environment-selected config file. Without
// either, config.yaml is used when present and defaults otherwise.
func loadConfig(flagPath string) (*config.Config, error) {
	path := config.ResolvePath(flagPath)
	if flagPath == "" && os.Getenv(config.EnvConfigPath) == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// override replaces a config value with a non-empty flag value.
func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}
