package cli

import (
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tabstate/internal/state"
)

// valueResult is the JSON payload for commands that print a value.
type valueResult struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the persisted value of a key",
		Long: `Hydrate a container for key and print its value.

Example:
  tabstate get prefs
  tabstate get prefs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
}

func runGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "store unavailable", err)
	}
	defer sess.Close()

	// An absent key is reported before a container could write it through.
	key = norm.NFC.String(key)
	if _, ok, err := sess.store.Get(ctx, key); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "read "+key, err)
	} else if !ok {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, "key not found: "+key, nil)
	}

	s, err := sess.container(key, nil)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "create container", err)
	}

	if err := s.Ready(ctx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "hydrate "+s.Key(), err)
	}
	if failed := sess.failed(state.KindDecode); len(failed) > 0 {
		return formatter.Fail(ExitFailure, ErrCodeInvalidValue, "stored value could not be decoded", failed[0].Err)
	}
	if failed := sess.failed(state.KindLoad); len(failed) > 0 {
		return formatter.Fail(ExitFailure, ErrCodeStore, "read "+s.Key(), failed[0].Err)
	}

	v := s.Current()
	if formatter.Format == "json" {
		return formatter.Success(valueResult{Key: s.Key(), Value: v})
	}
	return formatter.Success(renderValue(v))
}
