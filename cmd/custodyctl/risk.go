package main

import (
	"time"

	"github.com/spf13/cobra"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/risk"
)

func newRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk scoring",
	}
	cmd.AddCommand(newRiskAssessCmd())
	return cmd
}

func newRiskAssessCmd() *cobra.Command {
	var (
		in      domain.RiskInput
		weekday int
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Assess the risk of a prospective rental",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.DayOfWeek = time.Weekday(weekday)
			return printJSON(cmd.OutOrStdout(), risk.NewEngine().AssessRisk(in))
		},
	}
	f := cmd.Flags()
	f.IntVar(&in.Trust.Score, "trust", domain.DefaultTrustScore, "borrower trust score (0-100)")
	f.IntVar(&in.Trust.TotalBorrows, "borrows", 0, "completed borrows")
	f.IntVar(&in.Trust.OnTimeReturns, "on-time-returns", 0, "on-time returns")
	f.IntVar(&in.Trust.LateReturns, "late-returns", 0, "late returns")
	f.IntVar(&in.Trust.Disputes, "disputes", 0, "disputes")
	f.Float64Var(&in.ItemValue, "value", 0, "item value in currency units")
	f.IntVar(&in.DurationHours, "hours", 24, "rental duration in hours")
	f.BoolVar(&in.HasCollateral, "collateral", false, "collateral offered")
	f.IntVar(&in.AccountAgeDays, "account-age", 30, "borrower account age in days")
	f.IntVar(&in.HourOfDay, "hour", 12, "hour of day of the handoff (0-23)")
	f.IntVar(&weekday, "weekday", int(time.Wednesday), "day of week (0=Sunday)")
	return cmd
}
