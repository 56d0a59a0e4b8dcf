package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/config"
)

type cli struct {
	configFile string
	envFile    string
	logLevel   string
	jsonLogs   bool

	cfg *config.Config
	log *logrus.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds an isolated command tree so tests do not share flag state.
func newRootCommand() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:   "externalredirect",
		Short: "Keep redirects in sync with the redirect URL field of content nodes",
		Long: `externalredirect reconciles the redirect URLs editors enter on content nodes
with the redirect table.

Examples:
   externalredirect generate-external   # Rebuild redirects for all live nodes
   externalredirect serve               # Serve the publish hook and redirect API`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&c.configFile, "config", "", "Config file (default: externalredirect.yaml in . or $HOME)")
	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", config.DefaultEnvFile, "Dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Set log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&c.jsonLogs, "json", false, "Output logs in JSON format")

	cmd.AddCommand(newGenerateCommand(c))
	cmd.AddCommand(newServeCommand(c))
	return cmd
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: c.configFile,
		EnvFile:    c.envFile,
	})
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.Log.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	log, err := newLogger(level, c.jsonLogs || cfg.Log.JSON)
	if err != nil {
		return err
	}
	log.SetOutput(cmd.ErrOrStderr())
	c.log = log
	return nil
}

func newLogger(level string, jsonLogs bool) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log := logrus.New()
	log.SetLevel(parsed)
	if jsonLogs {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}
