package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meshhooks/internal/config"
	"meshhooks/internal/controlsocket"
	"meshhooks/internal/logger"
	"meshhooks/internal/model"
	"meshhooks/internal/report"
)

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

// app carries the resolved configuration of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	configPath string
	socket     string
	input      string
	timeout    time.Duration
	logLevel   string

	cfg config.Config
	log *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, now: time.Now}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "meshhooks",
		Short:         "Hook commands for the requestd mesh monitoring daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file path (env "+config.EnvConfig+")")
	flags.StringVar(&a.socket, "socket", "", "Control socket path (env "+controlsocket.EnvPath+")")
	flags.StringVar(&a.input, "input", "", "Read the node snapshot from a file instead of the socket (- for stdin)")
	flags.DurationVar(&a.timeout, "timeout", 0, "Control socket timeout")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (env "+config.EnvLogLevel+")")

	root.AddCommand(
		newGraphCmd(a),
		newNodesCmd(a),
		newMetricsCmd(a),
		newZonefileCmd(a),
		newHookCmd(a),
		newConfigCmd(a),
	)
	return root
}

// setup resolves the config: flag > env > file > default.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadDotenv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	path := a.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("socket") {
		cfg.Socket.Path = a.socket
	}
	if flags.Changed("timeout") {
		cfg.Socket.Timeout = a.timeout.String()
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Level.SetByName(cfg.LogLevel)
	a.cfg = cfg
	a.log = logger.New(a.stderr)
	return nil
}

func (a *app) source() (controlsocket.Source, error) {
	if a.input != "" {
		return controlsocket.FileSource{Path: a.input, Stdin: a.stdin}, nil
	}
	timeout, err := a.cfg.SocketTimeout()
	if err != nil {
		return nil, err
	}
	return controlsocket.New(a.cfg.Socket.Path, timeout), nil
}

// fetch reads one snapshot and starts the run report.
func (a *app) fetch(ctx context.Context) ([]model.Node, *report.Report, error) {
	src, err := a.source()
	if err != nil {
		return nil, nil, err
	}
	nodes, err := src.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	a.log.Debug("snapshot fetched", "nodes", len(nodes), "up", model.CountUp(nodes))

	rep := report.New(a.log)
	rep.Processed(len(nodes))
	return nodes, rep, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
