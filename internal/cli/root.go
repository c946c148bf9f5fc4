package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lazypower/frecent/internal/config"
)

// app carries what every command needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	local  bool
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "frecent",
		Short: "Frecency ranking for notes",
		Long: `frecent keeps a ranked list of items ordered by how often and how recently
they were visited, with proportional aging so the history never grows without bound.

Run "frecent serve" to keep the tracker in memory; other commands talk to the
server when it is up and fall back to the database otherwise.`,
		Version:       VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger()
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.local, "local", false, "Operate on the database directly even if a server is running")

	root.AddCommand(VersionCmd())
	root.AddCommand(ServeCmd(a))
	root.AddCommand(VisitCmd(a))
	root.AddCommand(CloseCmd(a))
	root.AddCommand(RenameCmd(a))
	root.AddCommand(DeleteCmd(a))
	root.AddCommand(RemoveCmd(a))
	root.AddCommand(ListCmd(a))
	root.AddCommand(TotalCmd(a))
	root.AddCommand(ClearCmd(a))
	root.AddCommand(ReconcileCmd(a))
	root.AddCommand(IngestCmd(a))
	root.AddCommand(ExportCmd(a))
	root.AddCommand(ImportCmd(a))
	root.AddCommand(SettingsCmd(a))
	root.AddCommand(ConfigCmd(a))
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
