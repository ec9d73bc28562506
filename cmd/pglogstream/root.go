package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jfoltran/pglogstream/internal/appconfig"
	"github.com/jfoltran/pglogstream/internal/config"
	"github.com/jfoltran/pglogstream/internal/stream"
)

var (
	cfg    config.Config
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	configPath string
	optionArgs []string
	paramArgs  []string

	feedbackIntervalSec float64
	statusIntervalSec   float64
	pollIntervalSec     float64
	pollDurationSec     float64

	wal2json1 bool
	wal2json2 bool
)

// exitErr carries a terminal status through cobra back to main.
type exitErr struct {
	status stream.Status
}

func (e *exitErr) Error() string {
	return e.status.String()
}

var rootCmd = &cobra.Command{
	Use:   "pglogstream --slot NAME",
	Short: "Stream logical replication records to a file descriptor",
	Long: `pglogstream consumes a logical replication slot and writes each decoded
record to an output file descriptor. Progress is acknowledged through a
line-oriented command channel on stdin: "F <lsn>" advances the confirmed
position, "q" requests a graceful exit. With --poll-mode it instead waits
until the slot exists and is free.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appCfg, err := appconfig.Load(configPath)
		if err != nil {
			return err
		}

		level := zerolog.InfoLevel
		if parsed, err := zerolog.ParseLevel(appCfg.Logging.Level); err == nil && appCfg.Logging.Level != "" {
			level = parsed
		}
		if cfg.Verbose {
			level = zerolog.DebugLevel
		}
		logger = logger.Level(level)

		if cfg.Conn.Host == "" {
			cfg.Conn.Host = appCfg.Connection.Host
		}
		if cfg.Conn.Port == 0 {
			cfg.Conn.Port = appCfg.Connection.Port
		}
		if cfg.Conn.User == "" {
			cfg.Conn.User = appCfg.Connection.User
		}
		if cfg.Conn.DBName == "" {
			cfg.Conn.DBName = appCfg.Connection.DBName
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := finalizeConfig(); err != nil {
			return err
		}
		logOptions()
		if cfg.PollMode {
			return runPoll(cmd.Context())
		}
		return runStream(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()

	f.StringVarP(&cfg.Slot, "slot", "S", "", "Name of the logical replication slot (required)")
	f.StringArrayVarP(&optionArgs, "option", "o", nil, "Pass option KEY[=VALUE] to the slot's decoding plugin")
	f.BoolVar(&cfg.CreateSlot, "create-slot", false, "Create the replication slot if it does not exist")
	f.StringVar(&cfg.Plugin, "plugin", config.DefaultPlugin, "Logical decoding plugin used when creating the slot")

	f.BoolVar(&cfg.PollMode, "poll-mode", false, "Wait for the slot to become available instead of streaming")
	f.Float64Var(&pollDurationSec, "poll-duration", 0, "Give up polling after SEC seconds (0 = unlimited)")
	f.Float64Var(&pollIntervalSec, "poll-interval", 1.0, "Seconds between slot probes in poll mode")

	f.IntVarP(&cfg.OutFD, "fd", "D", 1, "Write records to this file descriptor instead of stdout")
	f.Float64VarP(&feedbackIntervalSec, "feedback-interval", "F", 0, "Minimum delay in seconds between feedback messages")
	f.Float64VarP(&statusIntervalSec, "status-interval", "s", 5.0, "Maximum delay in seconds between standby status messages (0 disables)")
	f.BoolVarP(&cfg.AutoFeedback, "auto-feedback", "A", false, "Acknowledge records automatically from the server-reported position")
	f.BoolVarP(&cfg.WriteHeader, "write-header", "H", false, "Write a header line before every record")
	f.BoolVarP(&cfg.WriteNL, "write-nl", "N", false, "Write a newline character after every record")
	f.BoolVarP(&wal2json1, "wal2json1", "j", false, "Equivalent to -o format-version=1 -o include-lsn=true")
	f.BoolVarP(&wal2json2, "wal2json2", "J", false, "Equivalent to -o format-version=2 --write-header")

	f.StringVarP(&cfg.Conn.DBName, "dbname", "d", "", "Database name to connect to")
	f.StringVar(&cfg.Conn.Host, "host", "", "Database server host or socket directory")
	f.Uint16VarP(&cfg.Conn.Port, "port", "p", 0, "Database server port")
	f.StringVarP(&cfg.Conn.User, "username", "U", "", "Database user name")
	f.StringArrayVarP(&paramArgs, "param", "m", nil, "Extra connection parameter KEY=VALUE (connect_timeout, application_name, ...)")

	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Show verbose messages")
	f.StringVar(&configPath, "config", "", "Path to the config file")

	_ = rootCmd.MarkFlagRequired("slot")
}

func finalizeConfig() error {
	if wal2json1 {
		cfg.PluginOptions = append(cfg.PluginOptions,
			config.Option{Key: "format-version", Value: "1", HasValue: true},
			config.Option{Key: "include-lsn", Value: "true", HasValue: true})
	}
	if wal2json2 {
		cfg.PluginOptions = append(cfg.PluginOptions,
			config.Option{Key: "format-version", Value: "2", HasValue: true})
		cfg.WriteHeader = true
	}
	for _, arg := range optionArgs {
		key, value, hasValue := strings.Cut(arg, "=")
		cfg.PluginOptions = append(cfg.PluginOptions,
			config.Option{Key: key, Value: value, HasValue: hasValue})
	}
	for _, arg := range paramArgs {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q: KEY=VALUE required", arg)
		}
		cfg.Conn.Extra = append(cfg.Conn.Extra, config.Param{Key: key, Value: value})
	}

	cfg.FeedbackInterval = secondsFlag(feedbackIntervalSec)
	cfg.StatusInterval = secondsFlag(statusIntervalSec)
	cfg.PollInterval = secondsFlag(pollIntervalSec)
	cfg.PollDuration = secondsFlag(pollDurationSec)

	return cfg.Validate()
}

func secondsFlag(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func logOptions() {
	if !cfg.Verbose {
		return
	}
	logger.Debug().
		Str("slot", cfg.Slot).
		Bool("create_slot", cfg.CreateSlot).
		Dur("feedback_interval", cfg.FeedbackInterval).
		Dur("status_interval", cfg.StatusInterval).
		Bool("auto_feedback", cfg.AutoFeedback).
		Msg("options")
	for _, o := range cfg.PluginOptions {
		if o.HasValue {
			logger.Debug().Str("key", o.Key).Str("value", o.Value).Msg("plugin option")
		} else {
			logger.Debug().Str("key", o.Key).Msg("plugin option")
		}
	}
	logger.Debug().Str("conninfo", cfg.Conn.ConnString()).Msg("connection parameters")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			return ee.status.Code()
		}
		logger.Error().Err(err).Msg("invalid arguments")
		return stream.StatusInvalidArgs.Code()
	}
	return 0
}
