// Package cli provides the command-line interface for buildvision
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/buildvision/internal/engine"
	"github.com/poltergeist/buildvision/pkg/config"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/output"
)

// ConfigName is the base name searched for in the project root
const ConfigName = "buildvision"

// CLI wires the commands to one configuration and logger
type CLI struct {
	options  *Options
	viper    *viper.Viper
	rootCmd  *cobra.Command
	cfg      *config.Config
	cfgPath  string
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a CLI writing to stdout and stderr
func NewCLI(options *Options) *CLI {
	return NewCLIWithOutput(options, os.Stdout, os.Stderr)
}

// NewCLIWithOutput creates a CLI with custom output writers
func NewCLIWithOutput(options *Options, out, errOut io.Writer) *CLI {
	if options == nil {
		options = NewOptions()
	}
	c := &CLI{
		options:  options,
		viper:    viper.New(),
		output:   out,
		errorOut: errOut,
	}
	c.setupCommands()
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "buildvision",
		Short: "Track build sessions and correlate their diagnostics",
		Long: `buildvision follows a build engine's callbacks, keeps one state per project
and attaches every warning and error to the project that raised it.

Engine callbacks are read from replay scripts, either once with "replay"
or continuously from an inbox directory with "serve".`,

		PersistentPreRunE: c.initializeConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)

	c.setupFlags()

	c.rootCmd.Version = c.options.Version
	c.rootCmd.SetVersionTemplate("buildvision v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newReplayCmd())
	c.rootCmd.AddCommand(c.newServeCmd())
	c.rootCmd.AddCommand(c.newHistoryCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.options.ConfigFile, "config", "", "config file (default: buildvision.yaml in the project root)")
	flags.StringVar(&c.options.ProjectRoot, "root", c.options.ProjectRoot, "project root directory")
	flags.StringVar(&c.options.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&c.options.Verbosity, "verbosity", "", "build logger verbosity (quiet, minimal, normal, detailed, diagnostic)")
}

// initializeConfig resolves the configuration file, applies BUILDVISION_*
// environment variables and flags on top of it, and creates the logger.
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	v := c.viper
	v.SetEnvPrefix("BUILDVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(c.rootCmd.PersistentFlags()); err != nil {
		return err
	}

	path := v.GetString("config")
	if path == "" {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(v.GetString("root"))
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case err == nil:
			path = v.ConfigFileUsed()
		case !errors.As(err, &notFound):
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	manager := config.NewManager()
	cfg := config.Default()
	if path != "" {
		loaded, err := manager.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if verbosity := v.GetString("verbosity"); verbosity != "" {
		cfg.BuildLogger.Verbosity = verbosity
	}
	if err := manager.ValidateConfig(cfg); err != nil {
		return err
	}

	c.cfg = cfg
	c.cfgPath = path
	c.options.ProjectRoot = v.GetString("root")

	if cfg.Logging.File != "" {
		c.logger = logger.CreateLogger(c.resolve(cfg.Logging.File), cfg.Logging.Level)
	} else {
		c.logger = logger.CreateLoggerWithOutput(cfg.Logging.Level, c.errorOut)
	}
	if path != "" {
		c.logger.Debug("Using config file", logger.WithField("file", path))
	}
	return nil
}

// resolve makes a configured path relative to the project root
func (c *CLI) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.options.ProjectRoot, path)
}

func (c *CLI) ui(verbose bool) *output.UI {
	return &output.UI{Verbose: verbose, Out: c.output, ErrOut: c.errorOut}
}

func (c *CLI) engineOptions() engine.Options {
	return engine.Options{
		Heartbeat: engine.HeartbeatConfig{
			Quantum: c.cfg.HeartbeatQuantum(),
			Quanta:  c.cfg.Heartbeat.Quanta,
		},
		Verbosity: c.cfg.Verbosity(),
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(c.output, "buildvision v%s\n", c.options.Version)
			return err
		},
	}
}
