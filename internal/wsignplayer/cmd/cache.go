package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wrale/wrale-signage-player/internal/wsignplayer/cache"
	"github.com/wrale/wrale-signage-player/internal/wsignplayer/storage"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the media cache",
		Long: `Inspect and maintain the local media cache. Stop the player before
verifying or clearing the cache.`,
	}

	cmd.AddCommand(
		newCacheListCmd(opts),
		newCacheVerifyCmd(opts),
		newCacheClearCmd(opts),
	)

	return cmd
}

// openCache opens the cache without a fetcher; it can inspect and prune
// but never download
func openCache(opts *rootOptions) (*cache.Cache, error) {
	quota, err := opts.cfg.Storage.QuotaBytes()
	if err != nil {
		return nil, err
	}
	return cache.Open(nil, cache.Options{
		Dir:                 opts.cfg.Storage.CacheDir,
		Quota:               quota,
		SafetyMarginPercent: opts.cfg.Storage.SafetyMarginPercent,
		Logger:              opts.logger,
	})
}

func newCacheListCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached media",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(opts)
			if err != nil {
				return err
			}
			entries := c.Entries()

			if output == "json" {
				if entries == nil {
					entries = []cache.Entry{}
				}
				return printJSON(cmd.OutOrStdout(), entries)
			}

			tw := newTabWriter(cmd.OutOrStdout())
			defer tw.Flush()

			fmt.Fprintf(tw, "FILE\tSIZE\tVERIFIED\tURL\n")
			for _, e := range entries {
				verified := formatAge(e.LastVerified)
				if e.Unverified {
					verified = "pending"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.File, storage.FormatBytes(e.Size), verified, e.URL)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func newCacheVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every cached file and drop corrupt ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(opts)
			if err != nil {
				return err
			}
			valid, removed, err := c.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d valid, %d removed\n", valid, removed)
			return nil
		},
	}
}

func newCacheClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached media",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCache(opts)
			if err != nil {
				return err
			}
			st := c.Stats()
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files (%s)\n", st.Entries, storage.FormatBytes(st.Bytes))
			return nil
		},
	}
}
