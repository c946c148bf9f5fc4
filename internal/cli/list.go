package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lazypower/frecent/internal/engine"
)

// ListCmd prints the ranking.
func ListCmd(a *app) *cobra.Command {
	var (
		limit  int
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show tracked keys ranked by frecency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				entries, err := b.Entries(limit, all)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if entries == nil {
						entries = []engine.Entry{}
					}
					return enc.Encode(entries)
				}

				settings, err := b.Settings()
				if err != nil {
					return err
				}
				printEntries(out, entries, settings.ShowExtension, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of entries (default maxItems)")
	cmd.Flags().BoolVar(&all, "all", false, "Show every entry, ignoring the limit")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func printEntries(w io.Writer, entries []engine.Entry, showExt bool, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}

	rank := color.New(color.Faint).SprintfFunc()
	name := color.New(color.Bold).SprintFunc()
	score := color.New(color.FgGreen).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			rank("%2d.", i+1),
			name(displayKey(e.Key, showExt)),
			score(humanize.FtoaWithDigits(e.Frecency, 2)),
			humanize.RelTime(time.UnixMilli(e.LastAccess), now, "ago", "from now"),
		)
	}
	tw.Flush()
}

// displayKey hides the file extension unless showExt is set.
func displayKey(key string, showExt bool) string {
	if showExt {
		return key
	}
	ext := path.Ext(key)
	if ext == "" || strings.HasSuffix(key, "/"+ext) {
		return key
	}
	return strings.TrimSuffix(key, ext)
}
