// Command authlab-loadtest drives session validation, access-token
// validation and refresh rotation against a Redis-backed engine.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/credential"
	"github.com/MrEthical07/authlab/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type options struct {
	sessions    int
	chains      int
	concurrency int
	ops         int
	redisAddr   string
}

// chain is one refresh-token lineage; only its holder may rotate it.
type chain struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "authlab-loadtest",
		Short:         "Load test authlab session and token paths",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.sessions, "sessions", 50000, "number of sessions to seed")
	f.IntVar(&opts.chains, "chains", 2000, "number of refresh-token chains to seed")
	f.IntVar(&opts.concurrency, "concurrency", 128, "number of concurrent workers")
	f.IntVar(&opts.ops, "ops", 100000, "operations per phase")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.sessions <= 0 || opts.chains <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return fmt.Errorf("sessions, chains, concurrency, and ops must be > 0")
	}

	client, cleanup, err := connect(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := authlab.DefaultConfig()
	cfg.Token.Secret = make([]byte, 32)
	if _, err := rand.Read(cfg.Token.Secret); err != nil {
		return err
	}
	engine, err := authlab.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("seeding %d sessions and %d refresh chains...\n", opts.sessions, opts.chains)
	startSeed := time.Now()
	sids, chains, err := seed(ctx, engine, opts)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	sessionStats := runPhase(opts, func(r *mrand.Rand) error {
		_, err := engine.ValidateSession(ctx, sids[r.Intn(len(sids))])
		return err
	})
	accessStats := runPhase(opts, func(r *mrand.Rand) error {
		c := chains[r.Intn(len(chains))]
		c.mu.Lock()
		tok := c.access
		c.mu.Unlock()
		_, err := engine.ValidateAccess(ctx, tok)
		return err
	})
	refreshStats := runPhase(opts, func(r *mrand.Rand) error {
		c := chains[r.Intn(len(chains))]
		c.mu.Lock()
		defer c.mu.Unlock()
		pair, err := engine.Refresh(ctx, c.refresh)
		if err != nil {
			return err
		}
		c.access, c.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})

	fmt.Println("---- results ----")
	printStats("validate-session", sessionStats)
	printStats("validate-access", accessStats)
	printStats("refresh", refreshStats)
	return nil
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(ctx context.Context, engine *authlab.Engine, opts options) ([]string, []*chain, error) {
	users := credential.DemoAccounts
	sids := make([]string, opts.sessions)
	for i := range sids {
		s, err := engine.Sessions().Create(ctx, users[i%len(users)].ID)
		if err != nil {
			return nil, nil, fmt.Errorf("create session: %w", err)
		}
		sids[i] = s.SessionID
	}

	chains := make([]*chain, opts.chains)
	for i := range chains {
		u := users[i%len(users)]
		pair, err := engine.Tokens().IssuePair(ctx, token.Identity{
			UserID:   u.ID,
			Email:    u.Email,
			Username: u.Username,
			Role:     string(u.Role),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("issue pair: %w", err)
		}
		chains[i] = &chain{access: pair.AccessToken, refresh: pair.RefreshToken}
	}
	return sids, chains, nil
}

func runPhase(opts options, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
