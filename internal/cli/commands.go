package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// VisitCmd records an activation of a key.
func VisitCmd(a *app) *cobra.Command {
	var at int64

	cmd := &cobra.Command{
		Use:   "visit <key>",
		Short: "Record a visit to a key",
		Long: `Record that the item at <key> was opened. Activating a key the server
already considers open is a tab switch and does not count, unless
recordOnEveryVisit is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				res, err := b.Visit(args[0], at)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case !res.Counted:
					fmt.Fprintf(out, "%s already open, not counted\n", res.Key)
				case res.Record == nil:
					fmt.Fprintf(out, "%s visited (pruned by aging)\n", res.Key)
				default:
					fmt.Fprintf(out, "%s visited, score %s\n", res.Key, humanize.FtoaWithDigits(res.Record.Score, 2))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "Visit time in unix milliseconds (default now)")
	return cmd
}

// CloseCmd removes a key from the open-set.
func CloseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "close <key>",
		Short: "Mark a key as no longer open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				return b.Close(args[0])
			})
		},
	}
}

// RenameCmd moves a key's history to a new key.
func RenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Move a key's history to a new key",
		Long:  "Move the record at <old> to <new>. If <new> is already tracked the two are merged: scores add up and the later access time wins.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				if err := b.Rename(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

// DeleteCmd reports that the item behind a key was deleted.
func DeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Forget a key whose item was deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				ok, err := b.Delete(args[0])
				if err != nil {
					return err
				}
				printDropped(cmd.OutOrStdout(), args[0], ok)
				return nil
			})
		},
	}
}

// RemoveCmd drops a key from the ranking without implying it was deleted.
func RemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a key from the ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				ok, err := b.Remove(args[0])
				if err != nil {
					return err
				}
				printDropped(cmd.OutOrStdout(), args[0], ok)
				return nil
			})
		},
	}
}

func printDropped(w io.Writer, key string, ok bool) {
	if ok {
		fmt.Fprintf(w, "removed %s\n", key)
	} else {
		fmt.Fprintf(w, "%s was not tracked\n", key)
	}
}

// TotalCmd prints the aging diagnostic.
func TotalCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "total",
		Short: "Show the sum of all scores against the aging ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				t, err := b.Total()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "records: %s\n", humanize.Comma(int64(t.Records)))
				fmt.Fprintf(out, "total:   %s\n", humanize.FtoaWithDigits(t.Total, 2))
				if t.MaxAge > 0 {
					fmt.Fprintf(out, "max age: %s (%.0f%% used)\n", humanize.Commaf(t.MaxAge), 100*t.Total/t.MaxAge)
				} else {
					fmt.Fprintln(out, "max age: disabled")
				}
				return nil
			})
		},
	}
}

// ClearCmd empties the record set.
func ClearCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every tracked key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to clear without --force")
			}
			return a.withBackend(func(b backend) error {
				if err := b.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("cleared"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Really clear all history")
	return cmd
}

// ReconcileCmd drops records for keys the host no longer has.
func ReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <keys-file|->",
		Short: "Drop records whose key is not in the given list",
		Long:  "Read the keys that still exist, one per line, and forget every tracked key not among them.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := readKeys(cmd, args[0])
			if err != nil {
				return err
			}
			return a.withBackend(func(b backend) error {
				n, err := b.Reconcile(keys)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale %s\n", n, plural(n, "record", "records"))
				return nil
			})
		},
	}
}

// readKeys reads non-blank lines from path, or stdin for "-".
func readKeys(cmd *cobra.Command, path string) ([]string, error) {
	r, closeFn, err := openInput(cmd, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	keys := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if k := strings.TrimSpace(scanner.Text()); k != "" {
			keys = append(keys, k)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return keys, nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
