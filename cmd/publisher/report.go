package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
	"github.com/gyaneshwarpardhi/clinigraph/internal/publisher"
)

var rule = strings.Repeat("=", 60)

func printHeader(w io.Writer, conf config.NATSConf, file string, records, batchSize, workers int) {
	bold := color.New(color.Bold)
	bold.Fprintln(w, "CLINICAL DATA PUBLISHER")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Target:   %s (stream %s, subject %s)\n", conf.URL, conf.Stream, conf.Subject)
	fmt.Fprintf(w, "Dataset:  %s (%d records)\n", file, records)
	fmt.Fprintf(w, "Batching: %d messages/batch, %d concurrent batches\n", batchSize, workers)
	fmt.Fprintln(w, rule)
}

func printProgress(w io.Writer, p publisher.Progress) {
	fmt.Fprintf(w, "Progress: %5.1f%% | Sent: %d | Failed: %d | Throughput: %.1f msg/sec\n",
		p.Percent(), p.Sent, p.Failed, p.ThroughputMsgPerSec)
}

func printStats(w io.Writer, st metrics.PublishStats) {
	fmt.Fprintln(w)
	color.New(color.FgGreen, color.Bold).Fprintln(w, "PUBLISHING COMPLETED")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Duration:         %.2f s\n", st.Duration.Seconds())
	fmt.Fprintf(w, "  Total Messages:   %d\n", st.TotalMessages)
	fmt.Fprintf(w, "  Sent:             %d\n", st.MessagesSent)
	failed := color.New(color.Reset)
	if st.MessagesFailed > 0 {
		failed = color.New(color.FgRed)
	}
	failed.Fprintf(w, "  Failed:           %d\n", st.MessagesFailed)
	fmt.Fprintf(w, "  Success Rate:     %.2f%%\n", st.SuccessRatePercent)
	fmt.Fprintf(w, "  Throughput:       %.2f msg/sec\n", st.ThroughputMsgPerSec)
	fmt.Fprintf(w, "  Data Volume:      %d bytes (%.3f MB/sec)\n", st.TotalBytesSent, st.ThroughputMBPerSec)
	fmt.Fprintf(w, "  Avg Message Size: %.1f bytes\n", st.AvgMessageSize)
	fmt.Fprintf(w, "  Avg Batch Time:   %.2f ms\n", float64(st.AvgBatchTime.Microseconds())/1000)
	fmt.Fprintln(w, rule)

	label, c := assess(st.ThroughputMsgPerSec)
	c.Fprintf(w, "%s: %.0f msg/sec\n", label, st.ThroughputMsgPerSec)
}

// assess grades publisher throughput.
func assess(msgPerSec float64) (string, *color.Color) {
	switch {
	case msgPerSec >= 1000:
		return "EXCELLENT", color.New(color.FgGreen, color.Bold)
	case msgPerSec >= 500:
		return "GOOD", color.New(color.FgGreen)
	case msgPerSec >= 100:
		return "MODERATE", color.New(color.FgYellow)
	default:
		return "LOW", color.New(color.FgRed)
	}
}

func printSummary(w io.Writer, runs []runResult) {
	fmt.Fprintln(w)
	color.New(color.Bold).Fprintln(w, "THROUGHPUT SUMMARY")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSENT\tFAILED\tDURATION(S)\tMSG/SEC\tSUCCESS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.1f\t%.1f%%\n",
			r.Name,
			r.Stats.MessagesSent,
			r.Stats.MessagesFailed,
			r.Stats.Duration.Seconds(),
			r.Stats.ThroughputMsgPerSec,
			r.Stats.SuccessRatePercent,
		)
	}
	tw.Flush()
}
