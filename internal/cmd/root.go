package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadencectl/cadence/internal/config"
	"github.com/cadencectl/cadence/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	overrides []string

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Risk-adaptive automation control plane",
	Long: `cadence paces an automated worker so its activity stays inside a daily
quota, a set of human-like activity windows and a risk budget.

Use the subcommands to run the worker, inspect its state or serve the
status API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading from emitting metrics to stdout; serve installs
	// the real telemetry system later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default is %s)", defaultConfigHint()))
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.StringArrayVar(&overrides, "set", nil, "override a config key, e.g. --set quota.daily_limit=20 (repeatable)")
}

func defaultConfigHint() string {
	if path := config.DefaultConfigPath(); path != "" {
		return path
	}
	return "./config/config.yaml"
}

// initConfig prepares the CLI logger. Configuration itself is loaded per
// command by loadConfig so that --set overrides and flags apply.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
}

// loadConfig runs the three-layer load with --config and --set applied.
func loadConfig(ctx context.Context) (*config.Config, error) {
	values, err := parseOverrides(overrides)
	if err != nil {
		return nil, err
	}

	opts := config.LoadOptions{ConfigFile: cfgFile, Overrides: values}
	cfg, err := config.Load(ctx, opts)
	if err != nil {
		return nil, err
	}

	if observability.CLILogger != nil {
		if used := config.ConfigFileUsed(opts); used != "" {
			observability.CLILogger.Debug("Using config file", zap.String("path", used))
		} else {
			observability.CLILogger.Debug("No config file found, using defaults and environment variables")
		}
	}
	return cfg, nil
}

// parseOverrides turns key=value pairs into a dotted-key map.
func parseOverrides(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(raw))
	for _, pair := range raw {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", pair)
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, nil
}
