package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/netsim-lab/routesim"
)

func newRunID() string {
	return uuid.NewString()
}

// resultFileName is the name of a result file placed in a directory, built from the current time
func resultFileName(now time.Time) string {
	return now.Format("2006-01-02--03-04-05") + ".txt"
}

// writeReport writes rpt to outPath and returns the name of the file written.  When
// outPath is a directory the report goes to a dated .txt file inside it
func writeReport(outPath string, rpt *routesim.Report) (string, error) {
	if info, err := os.Stat(outPath); err == nil && info.IsDir() {
		outPath = filepath.Join(outPath, resultFileName(time.Now()))
	}

	switch filepath.Ext(outPath) {
	case ".txt", ".TXT":
		var buf bytes.Buffer
		if err := rpt.Statistics.WriteSummary(&buf); err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "Run: %s\n", rpt.RunID)
		return outPath, os.WriteFile(outPath, buf.Bytes(), 0o644)
	default:
		return outPath, rpt.WriteToFile(outPath)
	}
}

func formatAverage(v *float64) string {
	if v == nil {
		return "undefined"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

// printReport writes a human readable account of rpt to w
func printReport(w io.Writer, rpt *routesim.Report) {
	st := rpt.Statistics
	fmt.Fprintf(w, "Run %s\n", rpt.RunID)
	fmt.Fprintf(w, "  simulation length:    %d\n", st.LengthOfSimulation)
	fmt.Fprintf(w, "  packets sent:         %d (malicious %d)\n", st.SentPackets, st.SentPacketsMalicious)
	fmt.Fprintf(w, "  packets delivered:    %d (malicious %d)\n", st.DeliveredPackets, st.DeliveredPacketsMalicious)
	fmt.Fprintf(w, "  average delivery:     %s\n", formatAverage(rpt.AverageDeliveryTime))
	fmt.Fprintf(w, "  average attempts:     %s\n", formatAverage(rpt.AverageAttempts))
	if rpt.Latency.Count > 0 {
		fmt.Fprintf(w, "  latency median/p95:   %g/%g (min %g, max %g)\n",
			rpt.Latency.Median, rpt.Latency.P95, rpt.Latency.Min, rpt.Latency.Max)
	}
}
