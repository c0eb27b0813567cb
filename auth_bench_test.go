package authlab

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func BenchmarkValidateAccess(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	res, err := engine.Login(context.Background(), LoginRequest{Identifier: "user", Password: "user123", Flow: FlowToken})
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(context.Background(), res.Tokens.AccessToken); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkValidateSession(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	res, err := engine.Login(context.Background(), LoginRequest{Identifier: "user", Password: "user123"})
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateSession(context.Background(), res.Session.SessionID); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	res, err := engine.Login(context.Background(), LoginRequest{Identifier: "user", Password: "user123", Flow: FlowToken})
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	refresh := res.Tokens.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = pair.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := engine.Login(context.Background(), LoginRequest{Identifier: "user", Password: "user123"})
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = engine.Logout(context.Background(), res.Session.SessionID)
	}
}

func newBenchmarkEngine(tb testing.TB) (*Engine, func()) {
	tb.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Token.AccessTTL = 10 * time.Minute
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.TOTP.BackupCodeCost = 4
	cfg.Metrics.Enabled = false
	cfg.Audit.Enabled = false

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	if err != nil {
		tb.Fatalf("Build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}
