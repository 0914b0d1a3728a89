package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tapestore/internal/model"
)

// HeaderOptions holds flags for the header command.
type HeaderOptions struct {
	*RootOptions
	Commit string
	Set    []string
}

// NewHeaderCommand creates the header command.
func NewHeaderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HeaderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "header",
		Short: "Merge header fields into a commit",
		Long: `Merge header fields into a stored commit.

Each --set takes key=value. Values that parse as JSON (true, 42, {"a":1})
are stored as such, anything else as a string. Identity, ordering and event
fields are never changed.

Example:
  tapestore header --commit 0190f... --set authoritative=true --set region=eu`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeader(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Commit, "commit", "", "commit id (required)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "header field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("commit")
	_ = cmd.MarkFlagRequired("set")

	return cmd
}

func runHeader(opts *HeaderOptions, cmd *cobra.Command) error {
	header, err := parseHeader(opts.Set)
	if err != nil {
		return newFormatter(opts.RootOptions, cmd).FailWith(ErrCodeInput, ExitCommandError, "invalid --set", err)
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	merged, err := s.store.ApplyCommitHeader(s.ctx, opts.Commit, header)
	if err != nil {
		return s.formatter.Fail("header merge failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(merged)
	}
	fmt.Fprintf(s.formatter.Writer, "Updated commit %s (%d header field(s))\n", merged.ID, len(header))
	return nil
}

// parseHeader turns key=value pairs into a header.
func parseHeader(pairs []string) (model.Header, error) {
	header := make(model.Header, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q: want key=value", pair)
		}
		header[key] = parseHeaderValue(raw)
	}
	return header, nil
}

func parseHeaderValue(raw string) interface{} {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}
