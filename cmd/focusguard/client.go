package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/control"
	"github.com/goodtune/focusguard/internal/focus"
	"github.com/goodtune/focusguard/internal/storage"
)

const requestTimeout = 30 * time.Second

var (
	statsDays   int
	selectApps  []string
	selectSites []string
)

var startCmd = &cobra.Command{
	Use:       "start TIER",
	Short:     "Start a focus session",
	Long:      `Start a focus session. Tiers: low (15m), medium (30m), high (60m), deep (120m).`,
	Example:   `  focusguard start deep`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"low", "medium", "high", "deep"},
	RunE: withClient(func(ctx context.Context, c *control.Client, args []string) error {
		session, err := c.StartSession(ctx, args[0])
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen, color.Bold)
		_, _ = green.Printf("Focus session started (%s)\n", session.Tier)
		fmt.Printf("Ends at %s\n", session.EndTime.Local().Format("15:04"))
		return nil
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active focus session",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		if err := c.StopSession(ctx); err != nil {
			return err
		}
		fmt.Println("Focus session stopped")
		return nil
	}),
}

var breakCmd = &cobra.Command{
	Use:   "break PRESET|DURATION",
	Short: "Take a break from restrictions",
	Long:  `Lift restrictions for a preset (short, medium, long) or a duration such as 10m.`,
	Example: `  focusguard break short
  focusguard break 20m`,
	Args: cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *control.Client, args []string) error {
		brk, err := c.StartBreak(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Break until %s\n", brk.EndTime.Local().Format("15:04:05"))
		return nil
	}),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "End the current break early",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		if err := c.EndBreak(ctx); err != nil {
			return err
		}
		fmt.Println("Restrictions resumed")
		return nil
	}),
}

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Request an emergency pass",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		res, err := c.RequestEmergencyPass(ctx)
		if err != nil {
			return err
		}
		if res.Granted {
			yellow := color.New(color.FgYellow, color.Bold)
			_, _ = yellow.Printf("Emergency pass granted until %s\n", res.BreakEnd.Local().Format("15:04"))
			return nil
		}

		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Println("Emergency pass denied")
		if !res.NextAvailable.IsZero() {
			fmt.Printf("Next pass available %s\n", res.NextAvailable.Local().Format("Mon 15:04"))
		}
		return nil
	}),
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-apply restrictions",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		return c.Refresh(ctx)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(st)
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show focus statistics",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *control.Client, _ []string) error {
		summary, err := c.Stats(ctx, statsDays)
		if err != nil {
			return err
		}

		total := time.Duration(summary.TotalFocusSeconds) * time.Second
		fmt.Printf("Total focus time: %dh %dm, Override attempts: %d\n",
			int(total.Hours()), int(total.Minutes())%60, summary.OverrideAttemptsToday)
		fmt.Printf("Today: %dm focused\n\n", summary.TotalFocusMinutesToday)

		cyan := color.New(color.FgCyan, color.Bold)
		_, _ = cyan.Printf("%-12s %8s %9s %7s %10s\n", "DAY", "FOCUS", "SESSIONS", "BREAKS", "OVERRIDES")
		for _, d := range summary.Days {
			fmt.Printf("%-12s %7dm %9d %7d %6d/%-3d\n",
				d.Day,
				d.Stats.FocusSeconds/60,
				d.Stats.CompletedSessions,
				d.Stats.BreaksTaken,
				d.Stats.OverridesGranted,
				d.Stats.OverrideAttempts)
		}
		return nil
	}),
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Show or replace the restricted apps and sites",
	Example: `  focusguard select
  focusguard select --sites news.example.com,video.example.com --apps com.example.game`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		c := control.NewClient(resolveControlAddr())

		var (
			sel storage.Selection
			err error
		)
		if cmd.Flags().Changed("apps") || cmd.Flags().Changed("sites") {
			sel, err = c.SetSelection(ctx, selectApps, selectSites)
		} else {
			sel, err = c.Selection(ctx)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Apps:  %s\n", joinOrNone(sel.Apps))
		fmt.Printf("Sites: %s\n", joinOrNone(sel.Sites))
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "Number of days to show")
	selectCmd.Flags().StringSliceVar(&selectApps, "apps", nil, "Application identifiers to restrict")
	selectCmd.Flags().StringSliceVar(&selectSites, "sites", nil, "Website hosts to restrict (subdomains included)")

	rootCmd.AddCommand(startCmd, stopCmd, breakCmd, resumeCmd, emergencyCmd, refreshCmd, statusCmd, statsCmd, selectCmd)
}

// withClient adapts a client call to a cobra RunE.
func withClient(fn func(ctx context.Context, c *control.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return fn(ctx, control.NewClient(resolveControlAddr()), args)
	}
}

// resolveControlAddr prefers --addr, then the configured control port.
func resolveControlAddr() string {
	if controlAddr != "" {
		return controlAddr
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %v, using default control address\n", err)
		cfg = config.Defaults()
	}

	host := cfg.Server.BindAddress
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Server.ControlPort))
}

func printStatus(st focus.Status) {
	bold := color.New(color.Bold)

	if !st.IsActive {
		_, _ = bold.Println("No active focus session")
		printEnforcement(st)
		return
	}

	_, _ = bold.Printf("Focus session: %s\n", st.Session.Tier)
	fmt.Printf("Remaining: %s\n", formatSeconds(st.RemainingSeconds))
	fmt.Printf("Override attempts: %d\n", st.Session.OverrideAttempts)

	if st.Break != nil {
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Printf("On %s break, %s left\n", st.Break.Kind, formatSeconds(st.BreakRemainingSeconds))
	} else {
		green := color.New(color.FgGreen)
		_, _ = green.Println("Restrictions active")
	}
	printEnforcement(st)
}

func printEnforcement(st focus.Status) {
	if st.EnforcementHealthy {
		return
	}
	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Println("Warning: the last enforcement call failed, it will be retried")
}

func formatSeconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}
