// Package cli defines the blackboard command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bfollington/claude-blackboard-sub000/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "blackboard",
		Short:        "Coordination layer and worker fleet for Claude Code sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override blackboard home directory (default: ~/.blackboard, env: BLACKBOARD_HOME)")

	cmd.AddCommand(newFarmCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newKillCmd())
	cmd.AddCommand(newWorkersCmd())
	cmd.AddCommand(newPurgeCmd())
	cmd.AddCommand(newDroneCmd())
	cmd.AddCommand(newDoctorCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
