package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/tabstate/internal/state"
)

type clearResult struct {
	Key     string `json:"key"`
	Cleared bool   `json:"cleared"`
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <key>",
		Short: "Delete the persisted entry of a key",
		Long: `Delete the durable entry for key. Clearing an absent key succeeds.

Example:
  tabstate clear prefs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, args[0], cmd)
		},
	}
}

func runClear(opts *RootOptions, key string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "store unavailable", err)
	}
	defer sess.Close()

	s, err := sess.container(key, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "create container", err)
	}
	if err := s.Ready(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "hydrate "+s.Key(), err)
	}

	s.Clear(ctx)
	if failed := sess.failed(state.KindDelete); len(failed) > 0 {
		return formatter.Fail(ExitFailure, ErrCodeDelete, "delete "+s.Key(), failed[0].Err)
	}

	if formatter.Format == "json" {
		return formatter.Success(clearResult{Key: s.Key(), Cleared: true})
	}
	return formatter.Success("cleared " + s.Key())
}
