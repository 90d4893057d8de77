package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
	"github.com/gyaneshwarpardhi/clinigraph/internal/publisher"
)

func init() {
	color.NoColor = true
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, metrics.PublishStats{
		Duration:            2 * time.Second,
		TotalMessages:       237,
		MessagesSent:        236,
		MessagesFailed:      1,
		SuccessRatePercent:  99.58,
		ThroughputMsgPerSec: 118,
		AvgBatchTime:        15 * time.Millisecond,
	})
	out := buf.String()
	assert.Contains(t, out, "Total Messages:   237")
	assert.Contains(t, out, "Failed:           1")
	assert.Contains(t, out, "Avg Batch Time:   15.00 ms")
	assert.Contains(t, out, "MODERATE: 118 msg/sec")
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	printProgress(&buf, publisher.Progress{CompletedBatches: 5, TotalBatches: 10, Sent: 250, ThroughputMsgPerSec: 99.5})
	assert.Contains(t, buf.String(), " 50.0%")
	assert.Contains(t, buf.String(), "Sent: 250")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, []runResult{
		{Name: "run-1", Stats: metrics.PublishStats{MessagesSent: 100, SuccessRatePercent: 100}},
		{Name: "run-2", Stats: metrics.PublishStats{MessagesSent: 98, MessagesFailed: 2, SuccessRatePercent: 98}},
	})
	out := buf.String()
	assert.Contains(t, out, "THROUGHPUT SUMMARY")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "98.0%")
}

func TestAssess(t *testing.T) {
	for tput, want := range map[float64]string{
		1200: "EXCELLENT",
		500:  "GOOD",
		150:  "MODERATE",
		20:   "LOW",
	} {
		got, _ := assess(tput)
		assert.Equal(t, want, got)
	}
}
