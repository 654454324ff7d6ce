package reporter

import (
	"fmt"
	"sort"

	"elysium-trading-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderGrid formats one grid snapshot as a console table: a summary block
// followed by the per-order ladder.
func RenderGrid(g *models.Grid) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Grid %s (%s)", g.ID, g.Symbol))
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Status", string(g.Status)},
		{"Range", fmt.Sprintf("%.4f - %.4f", g.LowerPrice, g.UpperPrice)},
		{"Levels", g.NumGrids},
		{"Interval", fmt.Sprintf("%.4f", g.PriceInterval)},
		{"Investment", fmt.Sprintf("%.2f (%.2f per level)", g.TotalInvestment, g.InvestmentPerGrid)},
		{"Current Price", fmt.Sprintf("%.4f", g.CurrentPrice)},
		{"Profit/Loss", fmt.Sprintf("%.4f", g.ProfitLoss)},
		{"Buy Only", g.BuyOnlyMode},
		{"Fills", len(g.FilledOrders)},
	})
	if g.LastError != "" {
		t.AppendRow(table.Row{"Last Error", g.LastError})
	}
	out := t.Render()

	if len(g.Orders) == 0 {
		return out
	}

	ot := table.NewWriter()
	ot.SetStyle(table.StyleLight)
	ot.AppendHeader(table.Row{"Level", "Side", "Price", "Quantity", "Status", "Order ID"})
	orders := append([]models.GridOrder(nil), g.Orders...)
	sort.Slice(orders, func(i, j int) bool { return orders[i].Price < orders[j].Price })
	for _, o := range orders {
		ot.AppendRow(table.Row{o.Level, string(o.Side),
			fmt.Sprintf("%.4f", o.Price), fmt.Sprintf("%.6f", o.Quantity),
			string(o.Status), o.OrderID})
	}
	ot.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
		{Name: "Quantity", Align: text.AlignRight},
	})
	return out + "\n" + ot.Render()
}

// RenderGridList formats the active/completed grid overview.
func RenderGridList(list *models.GridList) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Grid ID", "Symbol", "Status", "Range", "Levels", "PnL"})

	appendGrids := func(grids []models.Grid) {
		sorted := append([]models.Grid(nil), grids...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
		for _, g := range sorted {
			t.AppendRow(table.Row{g.ID, g.Symbol, string(g.Status),
				fmt.Sprintf("%.4f-%.4f", g.LowerPrice, g.UpperPrice),
				g.NumGrids, fmt.Sprintf("%.4f", g.ProfitLoss)})
		}
	}
	appendGrids(list.Active)
	if len(list.Active) > 0 && len(list.Completed) > 0 {
		t.AppendSeparator()
	}
	appendGrids(list.Completed)
	return t.Render()
}

// RenderStrategies formats the strategy catalog.
func RenderStrategies(infos []models.StrategyInfo) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Description"})
	for _, info := range infos {
		t.AppendRow(table.Row{info.ID, info.Name, info.Description})
	}
	return t.Render()
}

// RenderActiveStrategy formats the running-strategy snapshot, or a short
// notice when the slot is empty.
func RenderActiveStrategy(s *models.ActiveStrategy) string {
	if s == nil {
		return "no strategy is running"
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("Active Strategy")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"ID", s.ID},
		{"Name", s.Name},
		{"Started", s.StartedAt.Format("2006-01-02 15:04:05")},
		{"Running", s.Running},
	})
	for k, v := range s.Params {
		t.AppendRow(table.Row{"param:" + k, fmt.Sprintf("%v", v)})
	}
	return t.Render()
}
