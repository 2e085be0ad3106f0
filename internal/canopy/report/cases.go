package report

import (
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/treecrown/internal/canopy/l5relation"
)

// caseColors keeps a case the same colour in every chart and map.
var caseColors = map[l5relation.Case]string{
	l5relation.Case1:        "#35b779",
	l5relation.Case2:        "#fd8d3c",
	l5relation.Case3:        "#d62728",
	l5relation.Case4:        "#31688e",
	l5relation.Unclassified: "#9e9e9e",
}

// CaseChartPage writes an HTML page with one stacked bar chart for crowns
// and one for stems, one bar per unit.
func CaseChartPage(w io.Writer, title string, tallies map[string]l5relation.Tabulation) error {
	units := make([]string, 0, len(tallies))
	for u := range tallies {
		units = append(units, u)
	}
	sort.Strings(units)

	crowns := caseBar(title+" - crowns", units, func(u string) map[l5relation.Case]int { return tallies[u].Crowns })
	stems := caseBar(title+" - stems", units, func(u string) map[l5relation.Case]int { return tallies[u].Stems })

	page := components.NewPage()
	page.AddCharts(crowns, stems)
	diagf("case chart for %d units", len(units))
	return page.Render(w)
}

func caseBar(title string, units []string, counts func(string) map[l5relation.Case]int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Unit", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count"}),
	)
	bar.SetXAxis(units)
	for _, c := range l5relation.Cases {
		data := make([]opts.BarData, 0, len(units))
		for _, u := range units {
			data = append(data, opts.BarData{Value: counts(u)[c]})
		}
		bar.AddSeries(string(c), data,
			charts.WithBarChartOpts(opts.BarChart{Stack: "cases"}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: caseColors[c]}),
		)
	}
	return bar
}
