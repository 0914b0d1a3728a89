package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// TruncateOptions holds flags for the truncate command.
type TruncateOptions struct {
	*RootOptions
	Stream string
	From   int
	Remove bool
}

// NewTruncateCommand creates the truncate command.
func NewTruncateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TruncateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "truncate",
		Short: "Remove the tail of a stream",
		Long: `Remove every commit of a stream at or after commit sequence --from.

Removed commits are archived and stay visible through "tapestore truncated"
unless --remove is given, in which case they are deleted permanently.

Example:
  tapestore truncate --stream orders-1 --from 3
  tapestore truncate --stream orders-1 --from 0 --remove`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTruncate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "stream id (required)")
	cmd.Flags().IntVar(&opts.From, "from", 0, "first commit sequence to remove (required)")
	cmd.Flags().BoolVar(&opts.Remove, "remove", false, "delete without archiving")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func runTruncate(opts *TruncateOptions, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.store.TruncateStreamFrom(s.ctx, opts.Stream, opts.From, opts.Remove); err != nil {
		return s.formatter.Fail("truncate failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(map[string]interface{}{
			"stream": opts.Stream,
			"from":   opts.From,
			"remove": opts.Remove,
		})
	}
	mode := "archived"
	if opts.Remove {
		mode = "removed"
	}
	fmt.Fprintf(s.formatter.Writer, "Truncated %s from sequence %d (%s)\n", opts.Stream, opts.From, mode)
	return nil
}
