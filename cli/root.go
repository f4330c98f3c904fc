package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"game-profile-engine/utils"
)

// RootOptions holds global flags and the configuration every command shares.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	LocalDB string

	Config utils.Config
	Log    *utils.Logger
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the profile engine binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "profile-engine",
		Short: "Game profile persistence and reconciliation engine",
		Long: `Keeps a player's game profile consistent across the device store,
the session cache and the remote system of record.

Run "serve" for the HTTP API, or use the maintenance commands to export,
import, inspect and repair a single player's profile.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := utils.LoadConfig()
			if err != nil {
				return err
			}
			if opts.LocalDB != "" {
				cfg.LocalDBPath = opts.LocalDB
			}
			mode := cfg.LogMode
			switch {
			case opts.Verbose:
				mode = "development"
			case cmd.Name() != "serve":
				mode = "quiet"
			}
			log, err := utils.NewLogger(mode)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Log != nil {
				opts.Log.Sync()
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LocalDB, "local-db", "", "path of the local profile database (overrides LOCAL_DB_PATH)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
