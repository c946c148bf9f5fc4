package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// ExportCmd writes the state blob.
func ExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write records and settings as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				data, err := b.Export()
				if err != nil {
					return err
				}
				if len(args) == 0 || args[0] == "-" {
					_, err = cmd.OutOrStdout().Write(append(data, '\n'))
					return err
				}
				if err := os.WriteFile(args[0], data, 0644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				return nil
			})
		},
	}
}

// ImportCmd replaces all records and settings with an exported blob.
func ImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace records and settings from an export",
		Long:  "Replace the record set with the contents of an export. Entries that cannot be read are dropped; settings missing from the file keep their current values.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := io.ReadAll(r)
			closeFn()
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}

			return a.withBackend(func(b backend) error {
				n, err := b.Import(data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d %s\n", n, plural(n, "record", "records"))
				return nil
			})
		},
	}
}
