package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/frecent/internal/config"
	"github.com/lazypower/frecent/internal/engine"
)

// settingsView is how settings are printed.
type settingsView struct {
	MaxAge             float64  `yaml:"max_age"`
	MaxItems           int      `yaml:"max_items"`
	ExcludePathPattern string   `yaml:"exclude_path_pattern"`
	ExcludeGlobs       []string `yaml:"exclude_globs"`
	RecordOnEveryVisit bool     `yaml:"record_on_every_visit"`
	ShowExtension      bool     `yaml:"show_extension"`
}

// SettingsCmd shows or changes the engine settings.
func SettingsCmd(a *app) *cobra.Command {
	var (
		maxAge     float64
		maxItems   int
		pattern    string
		globs      []string
		everyVisit bool
		showExt    bool
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change ranking settings",
		Long: `Without flags, print the current settings. With flags, change only the
given values. Lowering --max-age ages the history immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(b backend) error {
				s, err := b.Settings()
				if err != nil {
					return err
				}

				flags := cmd.Flags()
				changed := false
				if flags.Changed("max-age") {
					s.MaxAge, changed = maxAge, true
				}
				if flags.Changed("max-items") {
					if maxItems < 0 {
						return errors.New("--max-items must not be negative")
					}
					s.MaxItems, changed = maxItems, true
				}
				if flags.Changed("exclude-pattern") {
					s.ExcludePathPattern, changed = pattern, true
				}
				if flags.Changed("exclude-glob") {
					s.ExcludeGlobs, changed = globs, true
				}
				if flags.Changed("every-visit") {
					s.RecordOnEveryVisit, changed = everyVisit, true
				}
				if flags.Changed("show-extension") {
					s.ShowExtension, changed = showExt, true
				}

				if changed {
					if s, err = b.UpdateSettings(s); err != nil {
						return err
					}
				}
				return printSettings(cmd, s)
			})
		},
	}

	f := cmd.Flags()
	f.Float64Var(&maxAge, "max-age", 0, "Ceiling for the sum of all scores (0 disables aging)")
	f.IntVar(&maxItems, "max-items", 0, "Number of entries in the default ranking")
	f.StringVar(&pattern, "exclude-pattern", "", "Regular expression of keys to hide")
	f.StringSliceVar(&globs, "exclude-glob", nil, "Glob of keys to hide (repeatable)")
	f.BoolVar(&everyVisit, "every-visit", false, "Count tab switches as visits")
	f.BoolVar(&showExt, "show-extension", false, "Show file extensions in listings")
	return cmd
}

func printSettings(cmd *cobra.Command, s engine.Settings) error {
	data, err := yaml.Marshal(settingsView(s))
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// ConfigCmd manages the configuration file.
func ConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
		// a broken or missing file must not keep "config init" from running
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve()
			if err != nil {
				cfg = config.Default()
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; using defaults\n", err)
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger()
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file if none exists",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv(config.EnvConfig)
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := config.LoadOrCreateAt(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})
	return cmd
}
