package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authlab"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authlab.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authlab.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authlab.MetricsSnapshot{
		Counters:   make(map[authlab.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authlab.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{
				authlab.MetricLoginSuccess: 3,
			},
			Histograms: map[authlab.MetricID][]uint64{
				authlab.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "authlab_login_success_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("unexpected data for %s: %#v", m.Name, m.Data)
			}
			if sum.DataPoints[0].Value != 3 {
				t.Fatalf("expected 3, got %d", sum.DataPoints[0].Value)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected authlab_login_success_total to be collected")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	if _, err := NewFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("authlab-test")

	src := &fakeSource{
		snapshot: authlab.MetricsSnapshot{
			Counters: map[authlab.MetricID]uint64{
				authlab.MetricLoginSuccess: 1,
			},
			Histograms: map[authlab.MetricID][]uint64{
				authlab.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authlab.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
