package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/tapestore/internal/model"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Stream string
	Seq    int
	Events string
	ID     string

	// GenerateID allows overriding commit id generation (for testing).
	// If nil, defaults to UUIDv7.
	GenerateID func() string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a commit to a stream",
		Long: `Append one commit carrying the events read from --events.

The events file holds a JSON array of {"id", "type", "data"} objects; use "-"
to read it from stdin. The commit id defaults to a new UUIDv7.

Exit code 1 means the commit was rejected: E101 when the same commit id was
already appended, E102 when another commit holds the stream position.

Example:
  tapestore append --stream orders-1 --seq 0 --events events.json
  echo '[{"id":"e1","type":"Placed"}]' | tapestore append --stream orders-1 --seq 1 --events -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "stream id (required)")
	cmd.Flags().IntVar(&opts.Seq, "seq", 0, "commit sequence within the stream")
	cmd.Flags().StringVar(&opts.Events, "events", "", "JSON events file, or - for stdin (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "commit id (default: new UUIDv7)")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

func runAppend(opts *AppendOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	events, err := readEvents(opts.Events, cmd.InOrStdin())
	if err != nil {
		return formatter.FailWith(ErrCodeInput, ExitCommandError, "failed to read events", err)
	}

	id := opts.ID
	if id == "" {
		generate := opts.GenerateID
		if generate == nil {
			generate = func() string { return uuid.Must(uuid.NewV7()).String() }
		}
		id = generate()
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	stored, err := s.store.Append(s.ctx, model.NewCommit(id, "", opts.Stream, opts.Seq, events))
	if err != nil {
		return s.formatter.Fail("append failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(stored)
	}
	fmt.Fprintf(s.formatter.Writer, "Appended commit %s to %s at sequence %d (%d event(s))\n",
		stored.ID, stored.StreamID, stored.CommitSequence, len(stored.Events))
	return nil
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readEvents decodes a JSON event array from path.
func readEvents(path string, stdin io.Reader) ([]model.Event, error) {
	data, err := readInput(path, stdin)
	if err != nil {
		return nil, err
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("invalid events JSON: %w", err)
	}
	return events, nil
}
