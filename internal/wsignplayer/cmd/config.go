package cmd

import (
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect player configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, WSIGN_*
environment variables and flags have been applied.`,
		Example: `  # Show where media will be cached
  wsignplayer config view --data-dir=/var/lib/wsignplayer`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := opts.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return cmd
}
