package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/kvlite/internal/kv"
)

func newGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under key",
		Long: "Print the value stored under key as JSON. Expired keys are deleted and " +
			"one-time keys are consumed by this read.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := s.app.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !result.Found() {
				cmd.Println(result.Status)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), result.Value)
		},
	}
}

func newSetCmd(s *session) *cobra.Command {
	var oneTime bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value without expiry",
		Long:  "Store a value without expiry. Values that parse as JSON are stored as JSON, anything else as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []kv.SetOption
			if oneTime {
				opts = append(opts, kv.OneTime())
			}
			if err := s.app.Store.Set(cmd.Context(), args[0], parseValue(args[1]), opts...); err != nil {
				return err
			}
			cmd.Println("OK")
			return nil
		},
	}

	cmd.Flags().BoolVar(&oneTime, "one-time", false, "Delete the key after its first read")
	return cmd
}

func newSetexCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "setex <key> <value> <seconds>",
		Short: "Store a value that expires after the given number of seconds",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseFloat(args[2], 64)
			if err != nil || seconds <= 0 {
				return fmt.Errorf("invalid ttl %q: must be a positive number of seconds", args[2])
			}
			ttl := time.Duration(seconds * float64(time.Second))

			if err := s.app.Store.SetWithExpiry(cmd.Context(), args[0], parseValue(args[1]), ttl); err != nil {
				return err
			}
			cmd.Println("OK")
			return nil
		},
	}
}

func newDelCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete"},
		Short:   "Delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := s.app.Store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(deleted)
			return nil
		},
	}
}

func newExistsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Report whether a key is present, ignoring expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := s.app.Store.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(exists)
			return nil
		},
	}
}

func newKeysCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "keys [pattern]",
		Short: "List keys, optionally filtered by a LIKE pattern",
		Long: "List keys in order. The pattern uses % for any run of characters and _ for a " +
			"single character; prefix either with a backslash to match it literally.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern string
			if len(args) == 1 {
				pattern = args[0]
			}
			keys, err := s.app.Store.Keys(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			for _, key := range keys {
				cmd.Println(key)
			}
			return nil
		},
	}
}

func newTTLCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl <key>",
		Short: "Print the milliseconds left before a key expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := s.app.Store.TTL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Status != kv.StatusFound {
				cmd.Println(result.Status)
				return nil
			}
			cmd.Println(result.Millis())
			return nil
		},
	}
}

func newClearCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.app.Store.Clear(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("OK")
			return nil
		},
	}
}

func newExportCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "export [path]",
		Short: "Write all keys and values to a JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			ok, err := s.app.Store.ExportJSON(cmd.Context(), path)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("export failed")
			}
			cmd.Println("OK")
			return nil
		},
	}
}

func newInfoCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print database diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := s.app.Store.Info(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newPurgeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every expired key now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, err := s.app.Store.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Println(count)
			return nil
		},
	}
}

func newScriptCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "script <file.lua>",
		Short: "Run a Lua script with the kv and log modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.app.RunScript(cmd.Context(), args[0])
		},
	}
}
