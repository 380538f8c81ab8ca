package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/api"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running player",
		Long: `Query the control API of a running player for its pairing state,
configuration source, playing sections and cache usage.`,
		Example: `  # Human readable summary
  wsignplayer status

  # Machine readable
  wsignplayer status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fetchStatus(cmd.Context(), opts.cfg.Control.Listen)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd.OutOrStdout(), st)
			}

			tw := newTabWriter(cmd.OutOrStdout())
			fmt.Fprintf(tw, "STATE:\t%s\n", colorPairing(st.Pairing.State))
			fmt.Fprintf(tw, "DISPLAY:\t%s\n", orDash(st.Pairing.DisplayID))
			if st.Pairing.PairingCode != "" {
				fmt.Fprintf(tw, "PAIRING CODE:\t%s\n", st.Pairing.PairingCode)
			}
			fmt.Fprintf(tw, "MESSAGE:\t%s\n", st.Pairing.Message)
			fmt.Fprintf(tw, "VERSION:\t%s\n", st.Version)
			fmt.Fprintf(tw, "SCHEDULE:\t%s\n", orDash(st.ScheduleID))
			fmt.Fprintf(tw, "SOURCE:\t%s\n", orDash(string(st.Source)))
			lastSync := time.Time{}
			if st.LastSync != nil {
				lastSync = *st.LastSync
			}
			fmt.Fprintf(tw, "LAST SYNC:\t%s\n", formatAge(lastSync))
			fmt.Fprintf(tw, "PAUSED:\t%t\n", st.Paused)
			fmt.Fprintf(tw, "CACHE:\t%d files, %s\n", st.Cache.Entries, storage.FormatBytes(st.Cache.Bytes))
			if st.Cache.LowStorage {
				fmt.Fprintf(tw, "STORAGE:\t%s\n", "LOW")
			}
			fmt.Fprintf(tw, "RENDERERS:\t%d\n", st.Renderers)
			if err := tw.Flush(); err != nil {
				return err
			}

			if len(st.Sections) == 0 {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			tw = newTabWriter(cmd.OutOrStdout())
			defer tw.Flush()
			fmt.Fprintf(tw, "SECTION\tSTATE\tITEM\tPOSITION\n")
			for _, s := range st.Sections {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", s.ID, colorSection(s.State), orDash(s.ItemID), s.Index+1, s.Items)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func fetchStatus(ctx context.Context, addr string) (*api.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("player not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player returned %s", resp.Status)
	}

	var st api.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("error decoding status: %w", err)
	}
	return &st, nil
}
