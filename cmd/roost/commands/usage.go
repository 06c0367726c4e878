package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roostlabs/roost/ai/tracker"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/display"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/sym"
)

// UsageCmd shows AI usage, cost, and budget headroom
var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: sym.DB + " Show AI usage, cost, and budget headroom",
	Long: sym.DB + ` usage — Show what the agent has spent.

Aggregates recorded AI calls over the last day, week, and month, shows the
per-model breakdown, and compares spend against the configured budgets.

Examples:
  roost usage           # Human-readable summary
  roost usage --json    # Full numbers for scripts`,
	RunE: runUsage,
}

// usageReport is the JSON shape of the usage command.
type usageReport struct {
	Day    *tracker.UsageStats      `json:"day"`
	Week   *tracker.UsageStats      `json:"week"`
	Month  *tracker.UsageStats      `json:"month"`
	Budget *budget.Status           `json:"budget"`
	Limits budget.Config            `json:"limits"`
	Models []tracker.ModelBreakdown `json:"models"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	usageTracker := tracker.NewUsageTracker(database)
	now := time.Now()

	day, err := usageTracker.GetUsageStats(now.AddDate(0, 0, -1))
	if err != nil {
		return errors.Wrap(err, "failed to read daily usage")
	}
	week, err := usageTracker.GetUsageStats(now.AddDate(0, 0, -7))
	if err != nil {
		return errors.Wrap(err, "failed to read weekly usage")
	}
	month, err := usageTracker.GetUsageStats(now.AddDate(0, 0, -30))
	if err != nil {
		return errors.Wrap(err, "failed to read monthly usage")
	}
	models, err := usageTracker.GetModelBreakdown(now.AddDate(0, 0, -30))
	if err != nil {
		return errors.Wrap(err, "failed to read model breakdown")
	}

	budgetTracker := budget.NewTracker(database, budget.ConfigFromAM(cfg))
	status, err := budgetTracker.GetStatus()
	if err != nil {
		return errors.Wrap(err, "failed to read budget status")
	}
	limits := budgetTracker.GetBudgetLimits()

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(usageReport{
			Day:    day,
			Week:   week,
			Month:  month,
			Budget: status,
			Limits: limits,
			Models: models,
		})
	}

	fmt.Printf("%s AI usage\n\n", sym.DB)

	rows := [][]string{
		usageRow("last day", day),
		usageRow("last week", week),
		usageRow("last month", month),
	}
	display.Table(os.Stdout, []string{"PERIOD", "REQUESTS", "SUCCESS", "TOKENS", "COST"}, rows)

	fmt.Printf("\nBudget: $%.2f of $%.2f today, $%.2f of $%.2f this week, $%.2f of $%.2f this month\n",
		status.DailySpend, limits.DailyBudgetUSD,
		status.WeeklySpend, limits.WeeklyBudgetUSD,
		status.MonthlySpend, limits.MonthlyBudgetUSD)

	if len(models) == 0 {
		return nil
	}

	fmt.Printf("\n")
	modelRows := make([][]string, 0, len(models))
	for _, m := range models {
		modelRows = append(modelRows, []string{
			m.ModelName,
			m.ModelProvider,
			fmt.Sprintf("%d", m.RequestCount),
			fmt.Sprintf("%d", m.TotalTokens),
			fmt.Sprintf("$%.4f", m.TotalCost),
		})
	}
	display.Table(os.Stdout, []string{"MODEL", "PROVIDER", "REQUESTS", "TOKENS", "COST"}, modelRows)
	return nil
}

func usageRow(period string, stats *tracker.UsageStats) []string {
	return []string{
		period,
		fmt.Sprintf("%d", stats.TotalRequests),
		fmt.Sprintf("%.0f%%", stats.SuccessRate*100),
		fmt.Sprintf("%d", stats.TotalTokens),
		fmt.Sprintf("$%.4f", stats.TotalCost),
	}
}
