// Package report renders a benchmark report to the console and exports
// it to JSON or CSV.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/airport-bench/internal/i18n"
	"github.com/airport-bench/internal/types"
)

// PrintNodeTable writes the per-node detail table. Node rows arrive
// pre-sorted by the orchestrator.
func PrintNodeTable(w io.Writer, rep *types.BenchmarkReport) {
	fmt.Fprintf(w, "\n%s\n\n", i18n.T("table_node_title"))

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	defer tw.Flush()

	cols := []string{
		i18n.T("col_node"), i18n.T("col_src"), i18n.T("col_type"),
		i18n.T("col_median_lat"), i18n.T("col_p95_lat"),
		i18n.T("col_jitter"), i18n.T("col_loss"),
	}
	if rep.Options.SpeedEnabled {
		cols = append(cols, i18n.T("col_speed_intl"), i18n.T("col_speed_dom"))
	}
	cols = append(cols, i18n.T("col_region"))
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	abbrs := sourceAbbrs(rep.Sources)

	for i := range rep.Nodes {
		r := &rep.Nodes[i]
		row := []string{
			r.Node.NodeName,
			abbrs[r.Node.SourceName],
			r.Node.Protocol,
		}
		if r.Alive() {
			row = append(row,
				fmtMs(r.Latency.MedianMs),
				fmtMs(r.Latency.P95Ms),
				fmtJitter(r.Latency.JitterMs),
				fmtLoss(r.Latency.LossRate),
			)
		} else {
			row = append(row, i18n.T("dead"), "-", "-", "100%")
		}
		if rep.Options.SpeedEnabled {
			if r.Speed != nil {
				row = append(row, fmtMbps(r.Speed.InternationalMbps), fmtMbps(r.Speed.DomesticMbps))
			} else {
				row = append(row, "-", "-")
			}
		}
		row = append(row, fmtRegion(r.Geo))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

// PrintSourceTable writes the airport comparison table. It goes after
// the node table so the summary sits at the bottom of the terminal.
func PrintSourceTable(w io.Writer, rep *types.BenchmarkReport) {
	fmt.Fprintf(w, "\n%s\n\n", i18n.T("table_airport_title"))

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	defer tw.Flush()

	cols := []string{
		i18n.T("col_airport"), i18n.T("col_alive"),
		i18n.T("col_median_lat"), i18n.T("col_p95_lat"), i18n.T("col_jitter"),
	}
	if rep.Options.SpeedEnabled {
		cols = append(cols, i18n.T("col_speed_intl"), i18n.T("col_speed_dom"))
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	for _, s := range rep.Sources {
		row := []string{
			s.Name,
			fmt.Sprintf("%d/%d  %.1f%%", s.AliveNodes, s.TotalNodes, s.AliveRate*100),
			fmtMs(s.MedianMs),
			fmtMs(s.P95Ms),
			fmtJitter(s.AvgJitterMs),
		}
		if rep.Options.SpeedEnabled {
			row = append(row, fmtMbps(s.AvgIntlMbps), fmtMbps(s.AvgDomMbps))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
}

// PrintFooter writes run metadata and the single-session caveat.
func PrintFooter(w io.Writer, rep *types.BenchmarkReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, i18n.T("summary_tested_at", rep.TestedAt.Format("2006-01-02 15:04")))
	fmt.Fprintln(w, i18n.T("caveat"))
	fmt.Fprintln(w)
}

// Print renders the full console report.
func Print(w io.Writer, rep *types.BenchmarkReport) {
	PrintNodeTable(w, rep)
	PrintSourceTable(w, rep)
	PrintFooter(w, rep)
}

// sourceAbbrs maps each source name to an up-to-4-char abbreviation:
// initials for multi-word names, a prefix otherwise.
func sourceAbbrs(sources []types.SourceReport) map[string]string {
	abbrs := make(map[string]string, len(sources))
	for _, s := range sources {
		words := strings.Fields(s.Name)
		if len(words) >= 2 {
			var b strings.Builder
			for i, w := range words {
				if i == 4 {
					break
				}
				// Slice runes, not bytes: airport names are often CJK.
				initial := []rune(w)[:1]
				b.WriteString(strings.ToUpper(string(initial)))
			}
			abbrs[s.Name] = b.String()
			continue
		}
		name := []rune(s.Name)
		if len(name) > 4 {
			name = name[:4]
		}
		abbrs[s.Name] = strings.ToUpper(string(name))
	}
	return abbrs
}

func fmtMs(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *v)
}

func fmtJitter(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("±%.0fms", *v)
}

func fmtLoss(rate float64) string {
	return fmt.Sprintf("%.0f%%", rate*100)
}

func fmtMbps(v *float64) string {
	if v == nil {
		return i18n.T("na")
	}
	return fmt.Sprintf("%.1f Mbps", *v)
}

func fmtRegion(g *types.GeoInfo) string {
	if g == nil {
		return "-"
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{g.Country, g.City, g.ISP} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "/")
}

// ExportFilename builds the default export path for a run.
func ExportFilename(format string, testedAt time.Time) string {
	return fmt.Sprintf("results_%s.%s", testedAt.Format("20060102_150405"), format)
}
