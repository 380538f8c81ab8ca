package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/player"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Pair, sync and play until interrupted",
		Long: `Run the player. An unpaired display requests a pairing code and waits
for an operator to confirm it; a paired display plays its last good
configuration immediately and keeps it in sync with the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if err := requireServer(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := player.New(ctx, cfg,
				player.WithLogger(opts.logger),
				player.WithControlLogger(player.NewControlLogger(cmd.ErrOrStderr(), cfg.Logging)),
				player.WithVersion(version),
			)
			if err != nil {
				return err
			}
			defer p.Close()

			opts.logger.Info("starting player",
				"version", version,
				"server", cfg.Server.BaseURL,
				"dataDir", cfg.Storage.DataDir,
				"control", cfg.Control.Listen)

			if err := p.Run(ctx); err != nil {
				opts.logger.Error("player stopped", "error", err)
				return err
			}
			opts.logger.Info("player stopped")
			return nil
		},
	}
}
