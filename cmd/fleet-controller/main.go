// ABOUTME: Entry point for the fleet controller
// ABOUTME: Serves node agents and the operator console; also probes health and prints history

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/controller"
	"github.com/2389/coven-fleet/internal/logging"
	"github.com/2389/coven-fleet/internal/store"
)

// Version is set at build time.
var version = "dev"

const usage = `Usage: fleet-controller [command] [flags]

Commands:
  serve      Start the controller and operator console (default)
  health     Check a running controller's health endpoint
  history    Print recorded command results

Run 'fleet-controller <command> --help' for command flags.
`

func main() {
	command := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, string, error) {
	path = config.ResolvePath(path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file (default $FLEET_CONFIG or config.yaml)")
	port := fs.IntP("port", "p", 0, "override listen_port")
	healthAddr := fs.String("health-addr", "", "override controller.health_addr")
	noColor := fs.Bool("no-color", false, "disable colored console output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.ListenPort = *port
	}
	if *healthAddr != "" {
		cfg.Controller.HealthAddr = *healthAddr
	}
	if *noColor {
		color.NoColor = true
	}

	logger, closer, err := logging.Setup(cfg.Logging, cfg.LogPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	color.New(color.FgCyan).Println("fleet-controller")
	gray.Printf("  version: %s\n\n", version)
	green.Print("  ▶ ")
	fmt.Printf("Config:   %s\n", path)
	green.Print("  ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.ListenAddr())
	green.Print("  ▶ ")
	fmt.Printf("History:  %s\n", cfg.DBPath)
	if cfg.Controller.HealthAddr != "" {
		green.Print("  ▶ ")
		fmt.Printf("Health:   %s\n", cfg.Controller.HealthAddr)
	}
	fmt.Printf("  %d configured node(s). Type 'help' for commands.\n\n", len(cfg.Nodes))

	logger.Info("starting fleet-controller",
		"config", path,
		"listen_addr", cfg.ListenAddr(),
		"db_path", cfg.DBPath,
	)

	cc := controller.ConfigFrom(cfg)
	cc.Color = !color.NoColor
	ctrl := controller.New(cc, st, os.Stdin, color.Output, logger)
	return ctrl.Run(ctx)
}

func runHealth(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file (default $FLEET_CONFIG or config.yaml)")
	addr := fs.String("addr", "", "health endpoint address (default controller.health_addr)")
	timeout := fs.Duration("timeout", 3*time.Second, "probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := *addr
	if target == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		target = cfg.Controller.HealthAddr
	}
	if target == "" {
		return errors.New("no health address: set controller.health_addr or pass --addr")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	status, err := controller.Probe(ctx, target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: status %s", status)
	}
	fmt.Println("healthy")
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "config file (default $FLEET_CONFIG or config.yaml)")
	node := fs.StringP("node", "n", "", "only show results from this node")
	limit := fs.IntP("limit", "l", store.DefaultListLimit, "maximum number of results")
	id := fs.String("id", "", "show the full output of one command id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer st.Close()

	if *id != "" {
		rec, err := st.GetCommand(ctx, *id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no result recorded for id %s", *id)
		}
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	}

	records, err := st.ListCommands(ctx, store.CommandFilter{Node: *node, Limit: *limit})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No command history.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPLETED\tNODE\tID\tEXIT\tCOMMAND")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.CompletedAt.Local().Format(time.DateTime),
			r.Node,
			r.CommandID,
			r.ExitCode,
			r.Command,
		)
	}
	return w.Flush()
}

func printRecord(r *store.CommandRecord) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("[%s]", r.Node)
	fmt.Printf(" %s (id=%s, exit=%d)\n", r.Command, r.CommandID, r.ExitCode)
	if !r.SentAt.IsZero() {
		fmt.Printf("sent:      %s\n", r.SentAt.Local().Format(time.DateTime))
	}
	fmt.Printf("completed: %s\n", r.CompletedAt.Local().Format(time.DateTime))
	printStream("stdout", r.Stdout)
	printStream("stderr", r.Stderr)
}

func printStream(label, text string) {
	if text == "" {
		fmt.Printf("%s: <empty>\n", label)
		return
	}
	fmt.Printf("%s:\n%s", label, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Println()
	}
}
