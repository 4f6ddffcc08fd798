package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/marketlens/insightgate/domain/quota"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect and manage client usage",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a usage summary for a client",
	Long: `Show aggregated usage for a client over the last N days.

Examples:
  insightgate usage show --client cl_1234
  insightgate usage show --client cl_1234 --days 7`,
	RunE: runUsageShow,
}

var usageRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List a client's most recent calls",
	RunE:  runUsageRecent,
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a client's daily call counter",
	Long: `Delete a client's call counter for one UTC day.

Usage records are kept. The next call that day counts from zero.

Examples:
  insightgate usage reset --client cl_1234
  insightgate usage reset --client cl_1234 --day 2026-03-12 --yes`,
	RunE: runUsageReset,
}

var (
	usageClient string
	usageDays   int
	usageLimit  int
	usageDay    string
	usageYes    bool
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageRecentCmd)
	usageCmd.AddCommand(usageResetCmd)

	usageCmd.PersistentFlags().StringVar(&usageClient, "client", "", "client id (required)")
	usageCmd.MarkPersistentFlagRequired("client")

	usageShowCmd.Flags().IntVar(&usageDays, "days", 30, "number of days to summarize")
	usageRecentCmd.Flags().IntVar(&usageLimit, "limit", 20, "maximum records to show")
	usageResetCmd.Flags().StringVar(&usageDay, "day", "", "UTC day to reset, YYYY-MM-DD (default: today)")
	usageResetCmd.Flags().BoolVarP(&usageYes, "yes", "y", false, "skip confirmation")
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	if usageDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}

	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	now := time.Now().UTC()
	_, to := quota.DayBounds(now)
	from := to.AddDate(0, 0, -usageDays)

	s, err := stores.Ledger.Summary(cmd.Context(), usageClient, from, to)
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}
	today, err := stores.Ledger.Count(cmd.Context(), usageClient, quota.Day(now))
	if err != nil {
		return fmt.Errorf("failed to load counter: %w", err)
	}

	w := out(cmd)
	fmt.Fprintf(w, "Usage for %s\n", usageClient)
	fmt.Fprintf(w, "  Period:       %s to %s\n", s.PeriodStart.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02"))
	fmt.Fprintf(w, "  Requests:     %d\n", s.RequestCount)
	fmt.Fprintf(w, "  Bytes out:    %d\n", s.BytesOut)
	fmt.Fprintf(w, "  Avg latency:  %d ms\n", s.AvgLatencyMs)
	fmt.Fprintf(w, "  Today:        %d\n", today)

	if len(s.ByEndpoint) == 0 {
		return nil
	}

	endpoints := make([]string, 0, len(s.ByEndpoint))
	for e := range s.ByEndpoint {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tREQUESTS")
	for _, e := range endpoints {
		fmt.Fprintf(tw, "%s\t%d\n", e, s.ByEndpoint[e])
	}
	return tw.Flush()
}

func runUsageRecent(cmd *cobra.Command, args []string) error {
	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	records, err := stores.Ledger.Recent(cmd.Context(), usageClient, usageLimit)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	w := out(cmd)
	if len(records) == 0 {
		fmt.Fprintln(w, "No usage recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tENDPOINT\tPARAMS\tBYTES\tLATENCY")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\n",
			r.Timestamp.Format(time.RFC3339),
			r.Endpoint,
			truncate(r.ParamString(), 40),
			r.ResponseBytes,
			r.LatencyMs,
		)
	}
	return tw.Flush()
}

func runUsageReset(cmd *cobra.Command, args []string) error {
	day := usageDay
	if day == "" {
		day = quota.Day(time.Now())
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
	}

	if !usageYes && !confirm(cmd, fmt.Sprintf("Reset counter for %s on %s?", usageClient, day)) {
		fmt.Fprintln(out(cmd), "Cancelled.")
		return nil
	}

	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Ledger.Reset(cmd.Context(), usageClient, day); err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}

	fmt.Fprintf(out(cmd), "%s Counter reset for %s on %s\n", checkMark, usageClient, day)
	return nil
}
