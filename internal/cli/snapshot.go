package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SnapshotOptions holds flags for the snapshot commands.
type SnapshotOptions struct {
	*RootOptions
	Version int
	Data    string
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage per-stream snapshots",
		Long: `Read, replace and remove the snapshot cached for a stream.

Example:
  tapestore snapshot put orders-1 --version 12 --data state.json
  tapestore snapshot get orders-1
  tapestore snapshot rm orders-1 orders-2`,
	}

	get := &cobra.Command{
		Use:           "get <stream>",
		Short:         "Print the snapshot of a stream",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotGet(opts, args[0], cmd)
		},
	}

	put := &cobra.Command{
		Use:           "put <stream>",
		Short:         "Replace the snapshot of a stream",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotPut(opts, args[0], cmd)
		},
	}
	put.Flags().IntVar(&opts.Version, "version", 0, "stream version the snapshot was taken at (required)")
	put.Flags().StringVar(&opts.Data, "data", "", "JSON snapshot file, or - for stdin (required)")
	_ = put.MarkFlagRequired("version")
	_ = put.MarkFlagRequired("data")

	rm := &cobra.Command{
		Use:           "rm <stream>...",
		Short:         "Remove snapshots",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotRemove(opts, args, cmd)
		},
	}

	cmd.AddCommand(get, put, rm)
	return cmd
}

func runSnapshotGet(opts *SnapshotOptions, streamID string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	snap, ok, err := s.store.LoadSnapshot(s.ctx, streamID)
	if err != nil {
		return s.formatter.Fail("snapshot load failed", err)
	}

	if s.formatter.Format == "json" {
		if !ok {
			return s.formatter.Success(nil)
		}
		return s.formatter.Success(snap)
	}
	if !ok {
		fmt.Fprintf(s.formatter.Writer, "No snapshot for %s\n", streamID)
		return nil
	}
	fmt.Fprintf(s.formatter.Writer, "%s\tversion %d\t%s\n", snap.StreamID, snap.Version, snap.Snapshot)
	return nil
}

func runSnapshotPut(opts *SnapshotOptions, streamID string, cmd *cobra.Command) error {
	payload, err := readJSON(opts.Data, cmd.InOrStdin())
	if err != nil {
		return newFormatter(opts.RootOptions, cmd).FailWith(ErrCodeInput, ExitCommandError, "failed to read snapshot", err)
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	snap, err := s.store.StoreSnapshot(s.ctx, streamID, payload, opts.Version)
	if err != nil {
		return s.formatter.Fail("snapshot store failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(snap)
	}
	fmt.Fprintf(s.formatter.Writer, "Stored snapshot for %s at version %d\n", snap.StreamID, snap.Version)
	return nil
}

func runSnapshotRemove(opts *SnapshotOptions, streamIDs []string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.store.RemoveSnapshots(s.ctx, streamIDs...); err != nil {
		return s.formatter.Fail("snapshot remove failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(map[string]interface{}{"removed": streamIDs})
	}
	fmt.Fprintf(s.formatter.Writer, "Removed %d snapshot(s)\n", len(streamIDs))
	return nil
}

// readJSON reads a JSON document from path, or from stdin when path is "-".
func readJSON(path string, stdin io.Reader) (json.RawMessage, error) {
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in %s", path)
	}
	return json.RawMessage(data), nil
}
