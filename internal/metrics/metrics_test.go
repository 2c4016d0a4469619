package metrics

import "testing"

func TestMetricsRecordWithoutPanicking(t *testing.T) {
	RunsActive.Inc()
	RunsActive.Dec()
	RunsTotal.WithLabelValues("completed").Inc()
	StageDuration.WithLabelValues("asr").Observe(1.5)
	E2EDuration.Observe(30)
	Errors.WithLabelValues("asr", "transient").Inc()
	CacheHits.WithLabelValues("llm", "hit").Inc()
	VendorRetries.WithLabelValues("speechmatics").Inc()
}
