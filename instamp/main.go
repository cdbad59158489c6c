package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/itohio/instamp/pkg/config"
)

const (
	configOptionName   = "config"
	logLevelOptionName = "log-level"
	addrOptionName     = "addr"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	addr       string
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

// apiAddr returns the --addr override or the configured listen address.
func (g *globals) apiAddr(cfg *config.Config) string {
	if g.addr != "" {
		return g.addr
	}
	return cfg.API.Listen
}

func newRootCommand(out io.Writer) *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:          "instamp",
		Short:        "Microwave instrumentation amplifier controller",
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&g.configPath, configOptionName, "config.yaml", "Configuration file path")
	cmd.PersistentFlags().StringVar(&g.logLevel, logLevelOptionName, "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&g.addr, addrOptionName, "", "API address, overrides api.listen")

	cmd.AddCommand(newRunCommand(g))
	cmd.AddCommand(newSendCommand(g))
	cmd.AddCommand(newStatusCommand(g))
	cmd.AddCommand(newHistoryCommand(g))
	cmd.AddCommand(newRegsCommand(g))
	cmd.AddCommand(newConfigCommand(g))
	return cmd
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
