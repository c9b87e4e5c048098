package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/dns"
	"github.com/goodtune/focusguard/internal/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check restriction decisions against stored state",
	Long:  `Check what focusguard would do for a site, using the selection and shield state held in storage.`,
}

var checkSiteCmd = &cobra.Command{
	Use:   "site DOMAIN",
	Short: "Check whether a site is on the restricted list",
	Example: `  focusguard -c config.yaml check site www.example.com
  focusguard check site video.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckSite,
}

func init() {
	checkCmd.AddCommand(checkSiteCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckSite(cmd *cobra.Command, args []string) error {
	domain := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := openStorage(cfg.Storage, cfg.Shield.Channel)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	sel, err := store.Preferences().GetSelection(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to read selection: %w", err)
	}
	if sel == nil {
		sel = &storage.Selection{}
	}

	// The DNS server is never started here; it is only used for matching.
	matcher, err := dns.NewServer(dns.Config{
		UpstreamDNS: cfg.DNS.UpstreamServers,
		BlockTTL:    cfg.DNS.BlockTTL,
		CacheSize:   cfg.DNS.CacheSize,
		Timeout:     5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		return err
	}
	if err := matcher.ApplyRestrictions(ctx, sel.Apps, sel.Sites); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	_, _ = bold.Printf("Site: %s\n", domain)

	if matcher.IsBlocked(domain) {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Println("Selected: yes (sinkholed while restrictions are active)")
	} else {
		green := color.New(color.FgGreen, color.Bold)
		_, _ = green.Println("Selected: no")
	}

	shield, err := store.Shield().Current(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fmt.Println("Shield: never published")
	case err != nil:
		return fmt.Errorf("failed to read shield state: %w", err)
	case shield.Active:
		fmt.Printf("Shield: active since %s (%d sites, %d apps)\n",
			shield.UpdatedAt.Local().Format(time.RFC3339), len(shield.Sites), len(shield.Apps))
	default:
		fmt.Printf("Shield: inactive since %s\n", shield.UpdatedAt.Local().Format(time.RFC3339))
	}

	return nil
}
