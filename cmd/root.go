package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/de101/dataportal/internal/auditlog"
	"github.com/de101/dataportal/internal/config"
)

var (
	// flags bound in init()
	cfgFile   string
	logFormat string
	logLevel  string
	logOutput string

	// populated in PersistentPreRunE
	rootLogger *slog.Logger
	appConfig  config.Config
	auditStore *auditlog.Store
)

var rootCmd = &cobra.Command{
	Use:   "dataportal",
	Short: "Session-authenticated portal automating PII data-request extraction.",
	Long: `Dataportal serves the data-request ticket portal and runs the PII
extraction pipeline: ticket attachments are normalized, joined against the
user database in bounded chunks, packaged into an encrypted archive and
delivered back through the tracker and chat.

The primary command is 'serve'. 'extract' runs one pipeline from the CLI,
'seed' fills the user database with synthetic users, and 'audit' shows the
extraction history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		var err error
		appConfig, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(appConfig.Extract.WorkRoot, 0o755); err != nil {
			return fmt.Errorf("failed to create work root %s: %w", appConfig.Extract.WorkRoot, err)
		}
		if appConfig.AuditDBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.AuditDBPath), 0o755); err != nil {
				return fmt.Errorf("failed to create audit database directory: %w", err)
			}
		}

		rootLogger.Info("Opening audit database.", "path", appConfig.AuditDBPath)
		auditStore, err = auditlog.Open(appConfig.AuditDBPath)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if auditStore != nil {
			if err := auditStore.Close(); err != nil {
				rootLogger.Error("Failed to close audit database cleanly.", "error", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. Called by
// main.main().
func Execute() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed.", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.3.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getConfig() config.Config {
	return appConfig
}

func getAuditStore() *auditlog.Store {
	return auditStore
}
