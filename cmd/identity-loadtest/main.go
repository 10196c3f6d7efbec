// Command identity-loadtest drives concurrent commands against an
// in-process Engine and reports per-phase latency percentiles.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/encryption"
	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/eventstore/memstore"
	"github.com/MrEthical07/goIdentity/eventstore/redisstore"
	"github.com/MrEthical07/goIdentity/jwt"
)

const loadPassword = "load-test-password"

type userState struct {
	uid       string
	authToken string
	userToken string
}

func main() {
	fs := pflag.NewFlagSet("identity-loadtest", pflag.ExitOnError)
	users := fs.Int("users", 2000, "number of users to register")
	groups := fs.Int("groups", 4, "number of hot groups receiving concurrent invitations")
	concurrency := fs.Int("concurrency", 64, "number of concurrent workers")
	ops := fs.Int("ops", 20000, "operations per phase")
	store := fs.String("store", "memory", "event store: memory or redis")
	redisAddr := fs.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	_ = fs.Parse(os.Args[1:])

	if *users <= 0 || *groups <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, groups, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	backend, cleanup, err := openBackend(*store, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	engine, err := newEngine(backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]userState, *users)
	fmt.Printf("registering %d users...\n", *users)
	startSeed := time.Now()
	seedStats := runPhase(len(states), *concurrency, func(_ *rand.Rand, i int) error {
		return seedUser(ctx, engine, &states[i], i)
	})
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	owner := states[0]
	ownerCtx := goIdentity.WithUserToken(ctx, owner.userToken)
	groupIDs := make([]string, *groups)
	for i := range groupIDs {
		groupIDs[i] = fmt.Sprintf("group-%d", i)
		if err := engine.Groups.Create(ownerCtx, groupIDs[i], groupIDs[i]); err != nil {
			fmt.Fprintf(os.Stderr, "create group failed: %v\n", err)
			os.Exit(1)
		}
	}

	verifyStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		s := states[r.Intn(len(states))]
		_, err := engine.Users.VerifyAuthToken(goIdentity.WithAuthToken(ctx, s.authToken))
		return err
	})

	inviteStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		gid := groupIDs[r.Intn(len(groupIDs))]
		return engine.Groups.InviteUser(ownerCtx, gid, uuid.NewString()+"@invitee.test")
	})

	snapshot := engine.MetricsSnapshot()
	fmt.Println("---- results ----")
	printStats("register+login", seedStats)
	printStats("verifyAuthToken", verifyStats)
	printStats("inviteUser (contended)", inviteStats)
	fmt.Printf("conflict retries=%d retries exhausted=%d snapshots=%d\n",
		snapshot.Counters[goIdentity.MetricConcurrencyRetry],
		snapshot.Counters[goIdentity.MetricRetriesExhausted],
		snapshot.Counters[goIdentity.MetricSnapshotWritten],
	)
}

func openBackend(kind, addr string) (eventstore.Backend, func(), error) {
	if kind == "memory" {
		return memstore.New(), func() {}, nil
	}
	if kind != "redis" {
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return redisstore.New(client, "lt:"), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return redisstore.New(client, "lt:"), func() { _ = client.Close() }, nil
}

func newEngine(backend eventstore.Backend) (*goIdentity.Engine, error) {
	key, err := encryption.GenerateKey()
	if err != nil {
		return nil, err
	}
	keyring, err := encryption.NewKeyring(map[string][]byte{"lt": key}, "lt")
	if err != nil {
		return nil, err
	}
	signer, err := jwt.NewManager(jwt.Config{
		DefaultTTL:    time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    key,
	})
	if err != nil {
		return nil, err
	}

	cfg := goIdentity.DefaultConfig()
	// Cheap hashing keeps the run about the store, not argon2.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Store.MaxAttempts = 20
	cfg.Metrics.Enabled = true

	return goIdentity.New().
		WithConfig(cfg).
		WithBackend(backend).
		WithEncryptor(keyring).
		WithSigner(signer).
		Build()
}

func seedUser(ctx context.Context, e *goIdentity.Engine, s *userState, i int) error {
	s.uid = fmt.Sprintf("user-%d", i)
	addr := s.uid + "@load.test"
	if _, err := e.Users.RegisterPWA(ctx, goIdentity.RegisterInput{
		UserID: s.uid, Email: addr, Password: loadPassword, Locale: "en-US",
	}); err != nil {
		return err
	}
	res, err := e.Users.LogInPWA(ctx, uuid.NewString(), addr, loadPassword)
	if err != nil {
		return err
	}
	s.authToken = res.AuthToken
	s.userToken, err = e.Users.VerifyAuthToken(goIdentity.WithAuthToken(ctx, res.AuthToken))
	return err
}

// runPhase runs op ops times across concurrency workers.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
