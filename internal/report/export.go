package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/airport-bench/internal/types"
)

// WriteJSON writes the full structured report.
func WriteJSON(w io.Writer, rep *types.BenchmarkReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rep)
}

// WriteCSV writes the flattened tabular form, one row per node result,
// with a fixed column order.
func WriteCSV(w io.Writer, rep *types.BenchmarkReport) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{
		"source",
		"node_name",
		"node_type",
		"server",
		"port",
		"status",
		"latency_median_ms",
		"latency_p95_ms",
		"latency_jitter_ms",
		"latency_loss_rate",
		"international_mbps",
		"domestic_mbps",
		"exit_ip",
		"exit_country",
		"exit_region",
		"exit_city",
		"exit_isp",
		"tested_at",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i := range rep.Nodes {
		r := &rep.Nodes[i]
		var intl, dom *float64
		if r.Speed != nil {
			intl, dom = r.Speed.InternationalMbps, r.Speed.DomesticMbps
		}
		var ip, country, region, city, isp string
		if r.Geo != nil {
			ip, country, region, city, isp = r.Geo.IP, r.Geo.Country, r.Geo.Region, r.Geo.City, r.Geo.ISP
		}

		record := []string{
			r.Node.SourceName,
			r.Node.NodeName,
			r.Node.Protocol,
			r.Node.Server,
			strconv.Itoa(r.Node.Port),
			string(r.Status),
			fmtOptFloat(r.Latency.MedianMs),
			fmtOptFloat(r.Latency.P95Ms),
			fmtOptFloat(r.Latency.JitterMs),
			strconv.FormatFloat(r.Latency.LossRate, 'f', 3, 64),
			fmtOptFloat(intl),
			fmtOptFloat(dom),
			ip,
			country,
			region,
			city,
			isp,
			r.TestedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// Export writes the report to path in the given format ("json" or "csv").
func Export(format, path string, rep *types.BenchmarkReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	switch format {
	case "json":
		err = WriteJSON(f, rep)
	case "csv":
		err = WriteCSV(f, rep)
	default:
		err = fmt.Errorf("unknown export format: %s", format)
	}
	return err
}

func fmtOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}
