// Package report renders batch results: a stacked HTML bar chart of
// relation cases per unit and a PNG map of crowns, tops and stems.
package report
