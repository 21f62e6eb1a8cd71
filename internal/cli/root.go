// Package cli wires configuration, logging and the worker loop behind the
// sshscan-worker command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sshscan/sshscan-worker/internal/config"
	"github.com/sshscan/sshscan-worker/internal/coordinator"
	"github.com/sshscan/sshscan-worker/internal/scan"
	"github.com/sshscan/sshscan-worker/internal/scan/sshprobe"
	"github.com/sshscan/sshscan-worker/internal/server"
	"github.com/sshscan/sshscan-worker/internal/worker"
)

// NewRootCommand builds the sshscan-worker command tree. Running it without
// a subcommand starts the worker.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "sshscan-worker",
		Short: "Pull SSH scan jobs from a coordinator and report results",
		Long: `sshscan-worker polls a coordinator for SSH scan jobs, scans each target
and posts the results back. Connection settings come from flags, SSHSCAN_*
environment variables or a YAML config file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return readConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sshscan-worker.yaml)")

	flags := root.Flags()
	flags.String("host", "", "coordinator host")
	flags.String("scheme", "", "coordinator scheme (http or https)")
	flags.Int("port", 0, "coordinator port")
	flags.Bool("verify", false, "verify the coordinator TLS certificate")
	flags.String("token", "", "coordinator auth token")
	flags.String("poll-interval", "", "wait after an empty poll (seconds or duration)")
	flags.String("poll-restore-interval", "", "wait after the coordinator was unreachable (seconds or duration)")
	flags.String("request-timeout", "", "timeout for each coordinator request (default 30s)")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-dir", "", "directory for a copy of the log")
	flags.String("status-addr", "", "listen address of the status server, empty disables it")
	flags.String("fingerprint-database", "", "fingerprint database path")
	flags.String("policy", "", "scan policy path")
	flags.String("install-root", "", "directory holding data/ and config/ (default is the executable directory)")
	flags.String("scan-timeout", "", "per-connection scan timeout (default 5s)")

	for key, flag := range map[string]string{
		config.KeyHost:                "host",
		config.KeyScheme:              "scheme",
		config.KeyPort:                "port",
		config.KeyVerify:              "verify",
		config.KeyToken:               "token",
		config.KeyPollInterval:        "poll-interval",
		config.KeyPollRestoreInterval: "poll-restore-interval",
		config.KeyRequestTimeout:      "request-timeout",
		config.KeyDebug:               "debug",
		config.KeyLogDir:              "log-dir",
		config.KeyStatusAddr:          "status-addr",
		config.KeyFingerprintDatabase: "fingerprint-database",
		config.KeyPolicy:              "policy",
		config.KeyScanTimeout:         "scan-timeout",
		config.KeyInstallRoot:         "install-root",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sshscan-worker %s (built %s)\n", config.Version, config.BuildTime)
		},
	}
}

func readConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath("/etc/sshscan-worker")
	v.SetConfigType("yaml")
	v.SetConfigName(".sshscan-worker")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg, "worker")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if path := v.ConfigFileUsed(); path != "" {
		logger.Info("using config file", "path", path)
	}

	logger.Info("starting sshscan-worker",
		"version", config.Version,
		"build_time", config.BuildTime,
		"debug", cfg.Debug,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := newWorker(cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})

	if cfg.StatusAddr != "" {
		srv := server.New(cfg.StatusAddr, w.Status(), logger)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exited with error", "err", err)
		return err
	}
	logger.Info("worker stopped cleanly")
	return nil
}

// newWorker wires the coordinator client, scan engine and loop for cfg.
func newWorker(cfg *config.Config, logger *slog.Logger) (*worker.Worker, error) {
	client, err := coordinator.NewClient(coordinator.Options{
		BaseURL: cfg.BaseURL(),
		Token:   cfg.Token,
		TLS:     coordinator.TLSOptions{Verify: cfg.Verify},
		Timeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator client: %w", err)
	}

	executor := scan.NewExecutor(sshprobe.New(logger), scan.Settings{
		FingerprintDatabase: cfg.FingerprintDatabase,
		Policy:              cfg.Policy,
		Timeout:             cfg.ScanTimeout,
	}, logger)

	return worker.New(
		coordinator.NewPoller(client, logger),
		executor,
		coordinator.NewReporter(client),
		worker.Options{
			PollInterval:        cfg.PollInterval,
			PollRestoreInterval: cfg.PollRestoreInterval,
			CoordinatorAddr:     cfg.Addr(),
		},
		logger,
	), nil
}
