package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/tabstate/internal/state"
)

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Write a value and wait until it is persisted",
		Long: `Hydrate a container for key, replace its value and wait for the write
to reach the store. With a relay configured the write is also broadcast to
every watcher of the key.

Example:
  tabstate set prefs '{"theme":"dark"}'
  tabstate set counter 42 --relay ws://localhost:8787`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(rootOpts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Bool("sync-tabs", false, "broadcast the write to other containers")
	cmd.Flags().String("relay", "", "relay URL (ws:// or wss://)")

	return cmd
}

func runSet(opts *RootOptions, key, raw string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidValue, "value is not valid JSON", err)
	}

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "store unavailable", err)
	}
	defer sess.Close()

	s, err := sess.container(key, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "create container", err)
	}

	// Holding a listener keeps the broadcast channel open for the write.
	cancel := s.Watch(func(state.Change) {})
	defer cancel()

	if err := s.Ready(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "hydrate "+s.Key(), err)
	}
	s.Set(v)
	if err := s.Flush(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodePersist, "write did not finish", err)
	}
	if failed := sess.failed(state.KindPersist); len(failed) > 0 {
		return formatter.Fail(ExitFailure, ErrCodePersist, "write did not persist", failed[len(failed)-1].Err)
	}
	formatter.VerboseLog("persisted %s", s.Key())

	if formatter.Format == "json" {
		return formatter.Success(valueResult{Key: s.Key(), Value: v})
	}
	return formatter.Success("set " + s.Key())
}
