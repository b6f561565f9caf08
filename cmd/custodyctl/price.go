package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/pricing"
)

func newPriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Fair price suggestions and abuse checks",
	}
	cmd.AddCommand(newPriceSuggestCmd(), newPriceCheckCmd())
	return cmd
}

func newPriceSuggestCmd() *cobra.Command {
	var (
		category  string
		hours     int
		condition string
		demand    string
	)
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest a rental price for a category and duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := pricing.NewEngine().SuggestPrice(domain.ItemCategory(category), hours, domain.ItemCondition(condition), domain.DemandLevel(demand))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryOther), "item category")
	cmd.Flags().IntVar(&hours, "hours", 24, "rental duration in hours")
	cmd.Flags().StringVar(&condition, "condition", string(domain.ConditionGood), "item condition")
	cmd.Flags().StringVar(&demand, "demand", string(domain.DemandMedium), "demand level")
	return cmd
}

func newPriceCheckCmd() *cobra.Command {
	var (
		category string
		hours    int
		price    int64
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Grade a listed price against the suggestion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := pricing.NewEngine()
			if err := engine.ValidatePrice(price, domain.ItemCategory(category)); err != nil {
				return err
			}
			s, err := engine.SuggestPrice(domain.ItemCategory(category), hours, domain.ConditionGood, domain.DemandMedium)
			if err != nil {
				return err
			}
			level := engine.CheckAbuse(price, s.SuggestedPrice)
			fmt.Fprintf(cmd.OutOrStdout(), "suggested=%d listed=%d abuse=%s\n", s.SuggestedPrice, price, level)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryOther), "item category")
	cmd.Flags().IntVar(&hours, "hours", 4, "reference duration in hours")
	cmd.Flags().Int64Var(&price, "price", 0, "listed price in whole currency units")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}
