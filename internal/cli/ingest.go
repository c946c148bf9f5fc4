package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/frecent/internal/events"
)

// IngestCmd replays a JSONL host event stream.
func IngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Apply a JSONL stream of host events",
		Long: `Apply host events, one JSON object per line:

  {"type":"open","key":"notes/a.md","ts":1700000000000}
  {"type":"close","key":"notes/a.md"}
  {"type":"rename","old_key":"notes/a.md","new_key":"notes/b.md"}
  {"type":"delete","key":"notes/b.md"}
  {"type":"remove","key":"notes/c.md"}
  {"type":"snapshot","keys":["notes/c.md"]}

Malformed lines are skipped. Reads stdin when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			r, closeFn, err := openInput(cmd, src)
			if err != nil {
				return err
			}
			evs, skipped, err := events.Parse(r)
			closeFn()
			if err != nil {
				return err
			}
			if skipped > 0 {
				a.logger.Warn("skipped malformed events", "count", skipped)
			}

			return a.withBackend(func(b backend) error {
				res, err := b.Ingest(evs)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"%d events: %d opens (%d counted), %d closes, %d renames, %d deletes, %d removals, %d snapshots\n",
					len(evs), res.Opens, res.Counted, res.Closes, res.Renames, res.Deletes, res.Removes, res.Snapshots)
				return nil
			})
		},
	}
}
