// Package cli implements the kvlite command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/kvlite/internal/app"
	"github.com/dokzlo13/kvlite/internal/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	storage    string
	file       string
	table      string
	logLevel   string
}

// session carries the application opened by the pre-run hook to the
// command bodies.
type session struct {
	flags globalFlags
	app   *app.App
}

// newRootCommand builds the kvlite command tree. The store opened by the
// persistent pre-run hook is released by session.close.
func newRootCommand() (*cobra.Command, *session) {
	s := &session{}

	root := &cobra.Command{
		Use:           "kvlite",
		Short:         "Key-value store on top of SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.open(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&s.flags.configPath, "config", "c", config.DefaultPath, "Path to configuration file")
	pf.StringVar(&s.flags.storage, "storage", "", "Storage mode: memory, temp or disk")
	pf.StringVar(&s.flags.file, "file", "", "Database filename")
	pf.StringVar(&s.flags.table, "table", "", "Table name")
	pf.StringVar(&s.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newGetCmd(s),
		newSetCmd(s),
		newSetexCmd(s),
		newDelCmd(s),
		newExistsCmd(s),
		newKeysCmd(s),
		newTTLCmd(s),
		newClearCmd(s),
		newExportCmd(s),
		newInfoCmd(s),
		newPurgeCmd(s),
		newScriptCmd(s),
	)

	return root, s
}

// Run executes kvlite with args, writing command output to out and logs to errOut.
func Run(ctx context.Context, args []string, out, errOut io.Writer) error {
	root, s := newRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if closeErr := s.close(ctx, err == nil); err == nil {
		err = closeErr
	}
	return err
}

// Execute runs kvlite against os.Args.
func Execute() error {
	return Run(app.SignalContext(), os.Args[1:], os.Stdout, os.Stderr)
}

func (s *session) open(cmd *cobra.Command) error {
	cfg, err := config.Load(s.flags.configPath)
	if err != nil {
		return err
	}

	if s.flags.storage != "" {
		cfg.Store.Storage = s.flags.storage
	}
	if s.flags.file != "" {
		cfg.Store.Filename = s.flags.file
	}
	if s.flags.table != "" {
		cfg.Store.Table = s.flags.table
	}
	if s.flags.logLevel != "" {
		cfg.Log.Level = s.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cmd.ErrOrStderr(), cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	s.app = app.New(cfg)
	return s.app.Open(cmd.Context())
}

// close releases the store. Pending manual-commit writes are committed only
// when the command succeeded, otherwise Close rolls them back.
func (s *session) close(ctx context.Context, commit bool) error {
	if s.app == nil {
		return nil
	}
	defer func() { s.app = nil }()

	if commit {
		if err := s.app.Commit(ctx); err != nil {
			_ = s.app.Close()
			return err
		}
	}
	return s.app.Close()
}

func setupLogging(out io.Writer, level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// parseValue decodes arg as JSON when it is valid JSON, else keeps it as a string.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
