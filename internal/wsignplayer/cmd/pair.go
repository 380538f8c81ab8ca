package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/client"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/identity"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/pairing"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/player"
)

// openIdentity opens the configured identity backend. The returned func
// closes it.
func openIdentity(ctx context.Context, opts *rootOptions) (*identity.Store, func() error, error) {
	backend, err := player.OpenStore(ctx, opts.cfg.Identity)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening identity store: %w", err)
	}
	store := identity.NewStore(backend)
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, nil, err
	}
	return store, backend.Close, nil
}

func newPairCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Pair this display with the server",
		Long: `Request a pairing code and wait until an operator confirms it in the
admin console. A display that is already paired is only re-checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(opts.cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openIdentity(ctx, opts)
			if err != nil {
				return err
			}
			defer closeStore()

			api, err := client.NewClient(opts.cfg.Server.BaseURL,
				client.WithTimeout(opts.cfg.Server.RequestTimeout),
				client.WithUserAgent("wsignplayer/"+version),
				client.WithLogger(opts.logger))
			if err != nil {
				return err
			}
			pc := pairing.NewClient(api, store, opts.logger)

			out := cmd.OutOrStdout()
			states := pc.Subscribe()
			watchCtx, cancelWatch := context.WithCancel(ctx)
			watched := make(chan struct{})
			go func() {
				defer close(watched)
				shown := ""
				for {
					select {
					case <-watchCtx.Done():
						return
					case st := <-states:
						if st != pairing.StateCodeRequested && st != pairing.StateAwaitingConfirmation {
							continue
						}
						s := pc.Status(watchCtx)
						if s.PairingCode == "" || s.PairingCode == shown {
							continue
						}
						shown = s.PairingCode
						fmt.Fprintf(out, "Pairing code: %s\n", s.PairingCode)
						fmt.Fprintf(out, "%s\n", s.Message)
					}
				}
			}()

			err = pc.Run(ctx, opts.cfg.Sync.PairingPollInterval)
			cancelWatch()
			<-watched
			if err != nil {
				return err
			}

			s := pc.Status(ctx)
			fmt.Fprintf(out, "Display %s is %s\n", s.DisplayID, colorPairing(s.State))
			return nil
		},
	}
}

func newUnpairCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "unpair",
		Short: "Forget this display's pairing",
		Long: `Remove the display id, pairing code and device token. The last good
configuration and location are kept unless --all is given, so a re-paired
display can start playing immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openIdentity(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeStore()

			if all {
				err = store.Clear(cmd.Context())
			} else {
				err = store.ClearSession(cmd.Context())
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Display unpaired")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also forget the cached configuration and location")
	return cmd
}
