package authlab

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNilAndDisabledMetricsRecordNothing(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Observe(MetricValidateLatency, time.Millisecond)
	if nilMetrics.Value(MetricLoginSuccess) != 0 || nilMetrics.Enabled() {
		t.Fatal("nil metrics must be inert")
	}

	off := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	off.Inc(MetricLoginSuccess)
	if off.LatencyEnabled() {
		t.Fatal("histograms must follow the master switch")
	}
	snap := off.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled snapshot should be empty, got %+v", snap)
	}
}

func TestMetricsOnlyLatencyHasHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)
	m.Observe(metricIDCount, time.Millisecond)
	m.Inc(metricIDCount)

	snap := m.Snapshot()
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected only the validate latency histogram, got %d", len(snap.Histograms))
	}
	for _, v := range snap.Histograms[MetricValidateLatency] {
		if v != 0 {
			t.Fatal("observations on other ids must be ignored")
		}
	}
}

func TestBucketIndexBoundaries(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + 900*time.Microsecond, 0},
		{6 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{26 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{101 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{time.Second, 7},
	}
	for _, tc := range tests {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsConcurrentEngineCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	ids := []MetricID{MetricSessionValidated, MetricAccessValidated, MetricRefreshSuccess}

	const workers = 16
	const perWorker = 2500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				m.Inc(ids[(w+i)%len(ids)])
			}
		}(w)
	}
	wg.Wait()

	var total uint64
	for _, id := range ids {
		total += m.Value(id)
	}
	if total != workers*perWorker {
		t.Fatalf("expected %d increments, got %d", workers*perWorker, total)
	}
}

func TestEngineFlowsFeedCounters(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, e *Engine, clock *fakeClock)
		want map[MetricID]uint64
	}{
		{
			name: "password login",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				if _, err := e.Login(context.Background(), LoginRequest{Identifier: "admin", Password: "admin123"}); err != nil {
					t.Fatalf("login failed: %v", err)
				}
			},
			want: map[MetricID]uint64{MetricLoginSuccess: 1, MetricSessionCreated: 1, MetricLoginFailure: 0},
		},
		{
			name: "wrong password",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				_, _ = e.Login(context.Background(), LoginRequest{Identifier: "admin", Password: "nope"})
			},
			want: map[MetricID]uint64{MetricLoginFailure: 1, MetricLoginSuccess: 0},
		},
		{
			name: "expired session",
			run: func(t *testing.T, e *Engine, clock *fakeClock) {
				ctx := context.Background()
				res, err := e.Login(ctx, LoginRequest{Identifier: "user", Password: "user123"})
				if err != nil {
					t.Fatalf("login failed: %v", err)
				}
				clock.Advance(25 * time.Hour)
				_, _ = e.ValidateSession(ctx, res.Session.SessionID)
			},
			want: map[MetricID]uint64{MetricSessionExpired: 1, MetricSessionValidated: 0},
		},
		{
			name: "access token",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				ctx := context.Background()
				res, err := e.Login(ctx, LoginRequest{Identifier: "user", Password: "user123", Flow: FlowToken})
				if err != nil {
					t.Fatalf("login failed: %v", err)
				}
				if _, err := e.ValidateAccess(ctx, res.Tokens.AccessToken); err != nil {
					t.Fatalf("validate failed: %v", err)
				}
				_, _ = e.ValidateAccess(ctx, "garbage")
			},
			want: map[MetricID]uint64{MetricTokenIssued: 1, MetricAccessValidated: 1, MetricAccessRejected: 1},
		},
		{
			name: "refresh reuse",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				ctx := context.Background()
				res, err := e.Login(ctx, LoginRequest{Identifier: "user", Password: "user123", Flow: FlowToken})
				if err != nil {
					t.Fatalf("login failed: %v", err)
				}
				if _, err := e.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
					t.Fatalf("refresh failed: %v", err)
				}
				_, _ = e.Refresh(ctx, res.Tokens.RefreshToken)
			},
			want: map[MetricID]uint64{MetricRefreshSuccess: 1, MetricRefreshReuseDetected: 1},
		},
		{
			name: "oauth login",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				if _, err := e.LoginWithOAuth(context.Background(), OAuthLoginRequest{ProviderUserID: 1}); err != nil {
					t.Fatalf("oauth login failed: %v", err)
				}
			},
			want: map[MetricID]uint64{MetricOAuthLoginSuccess: 1, MetricOAuthLoginFailure: 0},
		},
		{
			name: "oauth unknown user",
			run: func(t *testing.T, e *Engine, _ *fakeClock) {
				_, _ = e.LoginWithOAuth(context.Background(), OAuthLoginRequest{ProviderUserID: 99})
			},
			want: map[MetricID]uint64{MetricOAuthLoginFailure: 1, MetricOAuthLoginSuccess: 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			engine := newTestEngine(t, clock, nil, nil)
			tc.run(t, engine, clock)

			snap := engine.MetricsSnapshot()
			for id, want := range tc.want {
				if got := snap.Counters[id]; got != want {
					t.Fatalf("counter %d = %d, want %d", id, got, want)
				}
			}
		})
	}
}

func TestEngineValidateObservesLatency(t *testing.T) {
	clock := newFakeClock()
	engine := newTestEngine(t, clock, nil, func(b *Builder) { b.WithLatencyHistograms(true) })
	ctx := context.Background()

	_, _ = engine.ValidateSession(ctx, "missing")
	_, _ = engine.ValidateAccess(ctx, "garbage")

	var total uint64
	for _, v := range engine.MetricsSnapshot().Histograms[MetricValidateLatency] {
		total += v
	}
	if total != 2 {
		t.Fatalf("expected two latency observations, got %d", total)
	}
}
