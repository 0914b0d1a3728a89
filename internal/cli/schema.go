package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the schema of a partition database",
		Long: `Open (creating or upgrading if needed) a partition database and print
its schema version, collections and indexes.

Example:
  tapestore schema --partition tenant-7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	d, err := s.partition.Describe()
	if err != nil {
		return s.formatter.Fail("describe failed", err)
	}

	if s.formatter.Format == "json" {
		return s.formatter.Success(d)
	}
	w := s.formatter.Writer
	fmt.Fprintf(w, "Database: %s\n", d.Path)
	fmt.Fprintf(w, "Version:  %d\n\n", d.Version)
	for _, c := range d.Collections {
		fmt.Fprintf(w, "%s (key: %s)\n", c.Name, c.KeyPath)
		for _, idx := range c.Indexes {
			unique := ""
			if idx.Unique {
				unique = ", unique"
			}
			fmt.Fprintf(w, "  index %s on %s%s\n", idx.Name, idx.KeyPath, unique)
		}
	}
	return nil
}
