package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCycleMetricsRegistered(t *testing.T) {
	CyclesTotal.WithLabelValues("success").Inc()
	CycleDuration.WithLabelValues("success").Observe(0.4)
	StageDuration.WithLabelValues("executing").Observe(1.2)
	ClaimsTotal.WithLabelValues("won").Inc()
	RewardEther.Add(1.5)
	GenerationLatency.WithLabelValues("programming").Observe(2)
	CycleInFlight.Set(0)
	PendingResumes.Set(1)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"flowai_cycles_total",
		"flowai_cycle_duration_seconds",
		"flowai_stage_duration_seconds",
		"flowai_claims_total",
		"flowai_reward_ether_total",
		"flowai_generation_latency_seconds",
		"flowai_cycle_in_flight",
		"flowai_pending_resumes",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}
