package api

// Performance levels reported by /health and /metrics/real-time.
const (
	LevelExcellent  = "EXCELLENT"
	LevelGood       = "GOOD"
	LevelAcceptable = "ACCEPTABLE"
	LevelPoor       = "POOR"
	LevelCritical   = "CRITICAL"
)

// ThroughputLevel grades messages per second.
func ThroughputLevel(msgPerSec float64) string {
	switch {
	case msgPerSec >= 1000:
		return LevelExcellent
	case msgPerSec >= 500:
		return LevelGood
	case msgPerSec >= 100:
		return LevelAcceptable
	case msgPerSec >= 50:
		return LevelPoor
	default:
		return LevelCritical
	}
}

// LatencyLevel grades the average processing time in milliseconds.
func LatencyLevel(ms float64) string {
	switch {
	case ms <= 10:
		return LevelExcellent
	case ms <= 50:
		return LevelGood
	case ms <= 200:
		return LevelAcceptable
	case ms <= 500:
		return LevelPoor
	default:
		return LevelCritical
	}
}

// ScalingRecommendation suggests the next capacity step.
func ScalingRecommendation(msgPerSec, avgMs float64) string {
	switch {
	case msgPerSec < 50 || avgMs > 1000:
		return "MOVE_TO_STREAM_PROCESSING_TIER"
	case msgPerSec < 100 || avgMs > 500:
		return "ADD_INSTANCES_AND_TUNE_WRITES"
	case msgPerSec < 500:
		return "TUNE_WORKERS_OR_SCALE_HORIZONTALLY"
	default:
		return "CURRENT_ARCHITECTURE_PERFORMS_WELL"
	}
}

// BoundaryStatus reports whether throughput is still inside the comfortable range.
func BoundaryStatus(msgPerSec float64) string {
	if Sustainable(msgPerSec) {
		return "WITHIN_LIMITS"
	}
	return "APPROACHING_LIMITS"
}

// Scaling boundaries in messages per batch.
const (
	BatchArchitectureLimit   = 10000
	BatchOptimizationAbove   = 5000
	BatchStreamTierAbove     = 50000
	sustainableMsgPerSec     = 100
	minimumCapacityMsgPerSec = 50
	slowWriteMs              = 200
)

// Bottleneck names reported by /metrics/boundary-analysis.
const (
	BottleneckStoreWrites    = "GRAPH_STORE_WRITE_LATENCY"
	BottleneckConsumerRate   = "CONSUMER_PULL_RATE"
	BottleneckSystemCapacity = "OVERALL_SYSTEM_CAPACITY"
	NoBottleneck             = "NO_BOTTLENECK_DETECTED"
)

// Bottlenecks lists the limits the current figures run into, most specific first.
func Bottlenecks(msgPerSec, avgMs float64) []string {
	out := []string{}
	if avgMs > slowWriteMs {
		out = append(out, BottleneckStoreWrites)
	}
	if msgPerSec < sustainableMsgPerSec {
		out = append(out, BottleneckConsumerRate)
	}
	if msgPerSec < minimumCapacityMsgPerSec {
		out = append(out, BottleneckSystemCapacity)
	}
	return out
}

// PrimaryBottleneck is the first entry of Bottlenecks, or NoBottleneck.
func PrimaryBottleneck(found []string) string {
	if len(found) == 0 {
		return NoBottleneck
	}
	return found[0]
}

// ETASeconds projects how long a batch takes at the given rate. The rate is
// floored at one message per second.
func ETASeconds(messages int, msgPerSec float64) float64 {
	return round(float64(messages)/max(msgPerSec, 1), 1)
}

// Sustainable reports whether throughput can be held without changes.
func Sustainable(msgPerSec float64) bool {
	return msgPerSec >= sustainableMsgPerSec
}

// Suitability grades the current deployment shape.
func Suitability(msgPerSec float64) string {
	if Sustainable(msgPerSec) {
		return LevelGood
	}
	return "NEEDS_OPTIMIZATION"
}
