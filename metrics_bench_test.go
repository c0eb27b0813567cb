package authlab

import (
	"context"
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricSessionValidated)
				}
			})
		})
	}
}

func BenchmarkMetricsObserveValidateLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	samples := []time.Duration{2 * time.Millisecond, 40 * time.Millisecond, 700 * time.Millisecond}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Observe(MetricValidateLatency, samples[i%len(samples)])
	}
}

func BenchmarkEngineMetricsSnapshot(b *testing.B) {
	clock := newFakeClock()
	cfg := testConfig(clock)
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := New().WithConfig(cfg).Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if _, err := engine.Login(ctx, LoginRequest{Identifier: "user", Password: "user123"}); err != nil {
		b.Fatalf("login failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		snap := engine.MetricsSnapshot()
		if snap.Counters[MetricLoginSuccess] != 1 {
			b.Fatal("login counter lost")
		}
	}
}
