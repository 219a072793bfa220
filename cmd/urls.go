package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/observability"
	"github.com/xkilldash9x/marquee/internal/precheck"
	"github.com/xkilldash9x/marquee/internal/urlfile"
)

func newURLsCmd(v *viper.Viper) *cobra.Command {
	urlsCmd := &cobra.Command{
		Use:   "urls",
		Short: "Inspect the URL playlist",
		Long: `Urls prints the playlist grouped by category. With --check every URL is
probed over HTTP first and its reachability reported; the command fails
when any URL is unreachable.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlag("urls.path", cmd.Flags().Lookup("urls")); err != nil {
				return fmt.Errorf("binding urls flag: %w", err)
			}
			if err := v.BindPFlag("urls.category", cmd.Flags().Lookup("category")); err != nil {
				return fmt.Errorf("binding category flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}

			entries, err := urlfile.Load(cfg.URLs.Path)
			if err != nil {
				return err
			}
			entries = urlfile.Filter(entries, cfg.URLs.Category)
			if len(entries) == 0 {
				return fmt.Errorf("no urls in category %q in %s", cfg.URLs.Category, cfg.URLs.Path)
			}

			check, _ := cmd.Flags().GetBool("check")
			if !check {
				printPlaylist(cmd.OutOrStdout(), entries)
				return nil
			}
			parallel, _ := cmd.Flags().GetInt("parallel")
			return checkPlaylist(cmd.Context(), cmd.OutOrStdout(), cfg, entries, parallel)
		},
	}

	urlsCmd.Flags().StringP("urls", "u", "", "Path to the URL playlist (overrides urls.path)")
	urlsCmd.Flags().String("category", "", "Restrict the listing to one category")
	urlsCmd.Flags().Bool("check", false, "Probe every URL and report reachability")
	urlsCmd.Flags().Int("parallel", 4, "Concurrent probes used with --check")
	return urlsCmd
}

func printPlaylist(w io.Writer, entries []urlfile.Entry) {
	grouped := make(map[string][]urlfile.Entry)
	for _, e := range entries {
		key := strings.ToLower(e.Category)
		grouped[key] = append(grouped[key], e)
	}

	categories := urlfile.Categories(entries)
	for _, category := range categories {
		fmt.Fprintf(w, "%s:\n", category)
		for _, e := range grouped[strings.ToLower(category)] {
			fmt.Fprintf(w, "  %s\n", e.URL)
		}
	}
	fmt.Fprintf(w, "%d urls in %d categories\n", len(entries), len(categories))
}

func checkPlaylist(ctx context.Context, w io.Writer, cfg *config.Config, entries []urlfile.Entry, parallel int) error {
	prober, err := precheck.New(cfg.Network, cfg.Browser.UserAgents, observability.GetLogger())
	if err != nil {
		return err
	}
	defer prober.CloseIdleConnections()

	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}

	unreachable := 0
	for _, res := range prober.CheckAll(ctx, urls, parallel) {
		switch {
		case res.Reachable:
			fmt.Fprintf(w, "ok   %s  %d (%s)\n", res.URL, res.StatusCode, res.Elapsed.Round(time.Millisecond))
		case res.Err != nil:
			unreachable++
			fmt.Fprintf(w, "FAIL %s  %v\n", res.URL, res.Err)
		default:
			unreachable++
			fmt.Fprintf(w, "FAIL %s  status %d\n", res.URL, res.StatusCode)
		}
	}

	fmt.Fprintf(w, "%d reachable, %d unreachable\n", len(urls)-unreachable, unreachable)
	if unreachable > 0 {
		return fmt.Errorf("%d of %d urls unreachable", unreachable, len(urls))
	}
	return nil
}
