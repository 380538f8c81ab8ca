// Package cmd implements the wsignplayer command line
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/config"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/player"
)

// rootOptions carries the loaded configuration to subcommands
type rootOptions struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wsignplayer",
		Short: "Wrale Signage display player",
		Long: `wsignplayer runs on a signage display. It pairs the device with a
Wrale Signage server, keeps its content configuration in sync, caches media
locally and plays it, continuing from the cache while the network is down.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = player.NewLogger(cmd.ErrOrStderr(), cfg.Logging)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is ./wsignplayer.yaml or /etc/wrale-signage/wsignplayer.yaml)")
	cmd.PersistentFlags().String("server", "", "Wrale Signage server URL")
	cmd.PersistentFlags().String("data-dir", "", "directory for identity and cached media")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	cmd.PersistentFlags().String("listen", "", "control API address")

	cmd.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newPairCmd(opts),
		newUnpairCmd(opts),
		newCacheCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func requireServer(cfg *config.Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("no server configured - set --server, server.baseURL or WSIGN_SERVER_BASEURL")
	}
	return nil
}
