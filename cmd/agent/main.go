// Command lognexus-agent tails local log files, ships them to a LogNexus
// server and heartbeats on behalf of its host.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

type options struct {
	configFile string
	serverURL  string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "lognexus-agent",
		Short: "Ship log files and heartbeats to a LogNexus server",
		Long: `lognexus-agent tails the configured log files, ships new lines to a
LogNexus server in batches and reports its host alive with periodic
heartbeats. Unsent lines are kept in memory across server outages.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "agent.yaml", "config file path")
	root.PersistentFlags().StringVarP(&opts.serverURL, "server", "s", "", "server url (overrides config)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Validate the config, the sources and server reachability",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCheck(cmd.Context(), cmd.OutOrStdout(), opts)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), config.VersionString("lognexus-agent"))
			},
		},
	)
	return root
}

// loadConfig reads the file and applies the --server override.
func loadConfig(opts *options) (*Config, error) {
	cfg, err := LoadConfig(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.serverURL != "" {
		cfg.Server.URL = opts.serverURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runAgent(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.Logging.File, true); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	client, err := agent.NewClient(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	a, err := agent.New(cfg.AgentConfig(), client)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("starting lognexus-agent %s", config.Version)
	logger.Infof("shipping %d sources to %s as %s", len(cfg.Sources), cfg.Server.URL, cfg.Agent.ServerName)

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run agent: %w", err)
	}

	s := a.Stats()
	logger.Infof("agent stopped: collected=%d sent=%d dropped=%d pending=%d",
		s.Collected, s.Sent, s.Dropped, s.Pending)
	return nil
}

// runCheck reports every problem it finds instead of stopping at the
// first, and fails when any was found.
func runCheck(ctx context.Context, out io.Writer, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config     %s ok (server name %q)\n", opts.configFile, cfg.Agent.ServerName)

	problems := 0
	for _, src := range cfg.Sources {
		if err := checkSource(src.Path); err != nil {
			fmt.Fprintf(out, "source     %-16s %s: %v\n", src.Name, src.Path, err)
			problems++
			continue
		}
		fmt.Fprintf(out, "source     %-16s %s ok\n", src.Name, src.Path)
	}

	client, err := agent.NewClient(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(out, "server     %s: %v\n", cfg.Server.URL, err)
		problems++
	} else {
		fmt.Fprintf(out, "server     %s ok (version %v)\n", cfg.Server.URL, health["version"])
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	return nil
}

// checkSource accepts a missing file, since the tailer waits for it to
// appear, but not a missing directory or an unreadable file.
func checkSource(path string) error {
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.IsDir() {
			return errors.New("is a directory")
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	dir, statErr := os.Stat(filepath.Dir(path))
	if statErr != nil {
		return fmt.Errorf("directory: %w", statErr)
	}
	if !dir.IsDir() {
		return errors.New("parent is not a directory")
	}
	return nil
}
