package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tapestore/internal/model"
)

// QueryOptions holds flags for the query and truncated commands.
type QueryOptions struct {
	*RootOptions
	Stream string
	From   int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List active commits",
		Long: `List active commits sorted by commit sequence.

Without --stream every commit of the partition is listed. With --stream only
that stream is listed, starting at event --from of the stream.

Example:
  tapestore query
  tapestore query --stream orders-1 --from 4 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "stream id")
	cmd.Flags().IntVar(&opts.From, "from", 0, "first event sequence to return (requires --stream)")

	return cmd
}

// NewTruncatedCommand creates the truncated command.
func NewTruncatedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "truncated",
		Short: "List archived commits of a stream",
		Long: `List the commits of a stream that truncate archived, sorted by commit sequence.

Example:
  tapestore truncated --stream orders-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTruncated(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "stream id (required)")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	if opts.From > 0 && opts.Stream == "" {
		return newFormatter(opts.RootOptions, cmd).FailWith(ErrCodeInput, ExitCommandError,
			"invalid flags", errors.New("--from requires --stream"))
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	var commits []model.Commit
	if opts.Stream == "" {
		commits, err = s.store.QueryAll(s.ctx)
	} else {
		commits, err = s.store.QueryStream(s.ctx, opts.Stream, opts.From)
	}
	if err != nil {
		return s.formatter.Fail("query failed", err)
	}
	return outputCommits(s.formatter, commits)
}

func runTruncated(opts *QueryOptions, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	commits, err := s.store.QueryTruncated(s.ctx, opts.Stream)
	if err != nil {
		return s.formatter.Fail("query failed", err)
	}
	return outputCommits(s.formatter, commits)
}

// outputCommits prints commits as a JSON array or one line per commit.
func outputCommits(formatter *OutputFormatter, commits []model.Commit) error {
	if formatter.Format == "json" {
		if commits == nil {
			commits = []model.Commit{}
		}
		return formatter.Success(commits)
	}
	if len(commits) == 0 {
		fmt.Fprintln(formatter.Writer, "No commits")
		return nil
	}
	for _, c := range commits {
		writeCommitLine(formatter.Writer, c)
	}
	return nil
}

func writeCommitLine(w io.Writer, c model.Commit) {
	fmt.Fprintf(w, "%s\t%d\t%s\t%d event(s)\t%s\n",
		c.StreamID, c.CommitSequence, c.ID, len(c.Events), c.AppendDateTime.Format(time.RFC3339Nano))
}
