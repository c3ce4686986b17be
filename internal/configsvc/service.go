package configsvc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "orch:config:"

// Refresher is a component holding a snapshot built from configuration.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type entry struct {
	value     []byte
	fetchedAt time.Time
}

// Options configures a Service. Redis is optional.
type Options struct {
	Sources  []Source
	Redis    redis.Cmdable
	TTL      time.Duration
	RedisTTL time.Duration
	Keys     []string
}

// Service is the cached configuration client shared by every component.
type Service struct {
	sources  []Source
	redis    redis.Cmdable
	ttl      time.Duration
	redisTTL time.Duration
	keys     []string
	log      logger.Logger
	now      func() time.Time

	mu         sync.RWMutex
	entries    map[string]entry
	refreshers []Refresher
	ready      atomic.Bool
}

func NewService(opts Options, log logger.Logger) *Service {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.RedisTTL <= 0 {
		opts.RedisTTL = opts.TTL * 5
	}
	keys := opts.Keys
	if len(keys) == 0 {
		keys = AllKeys
	}
	return &Service{
		sources:  opts.Sources,
		redis:    opts.Redis,
		ttl:      opts.TTL,
		redisTTL: opts.RedisTTL,
		keys:     keys,
		log:      logger.Component(log, "configsvc"),
		now:      time.Now,
		entries:  make(map[string]entry),
	}
}

// Register adds a component refreshed after Initialize and on every poll.
func (s *Service) Register(r Refresher) {
	s.mu.Lock()
	s.refreshers = append(s.refreshers, r)
	s.mu.Unlock()
}

// Ready reports whether Initialize has completed.
func (s *Service) Ready() bool { return s.ready.Load() }

type cacheOnlyKey struct{}

// errNotLoaded is returned for keys that are not in memory when a read may not leave the cache.
var errNotLoaded = errors.New("not loaded")

func withCacheOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheOnlyKey{}, true)
}

func cacheOnly(ctx context.Context) bool {
	v, _ := ctx.Value(cacheOnlyKey{}).(bool)
	return v
}

// Get returns the value for key: fresh memory, then Redis, then sources in order.
// When every source fails a stale value is served if one exists.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, cached := s.entries[key]
	s.mu.RUnlock()
	if cached && s.now().Sub(e.fetchedAt) < s.ttl {
		return e.value, nil
	}
	if cacheOnly(ctx) {
		if cached {
			return e.value, nil
		}
		return nil, apperrors.NewConfigUnavailableError(key, errNotLoaded)
	}

	if value, ok := s.readRedis(ctx, key); ok {
		s.store(key, value)
		return value, nil
	}

	value, err := s.fetch(ctx, key)
	if err == nil {
		s.store(key, value)
		s.writeRedis(ctx, key, value)
		return value, nil
	}

	if cached {
		s.log.Warn("serving stale configuration", map[string]interface{}{
			"key":   key,
			"age":   s.now().Sub(e.fetchedAt).String(),
			"error": err.Error(),
		})
		return e.value, nil
	}
	return nil, apperrors.NewConfigUnavailableError(key, err)
}

func (s *Service) fetch(ctx context.Context, key string) ([]byte, error) {
	if len(s.sources) == 0 {
		return nil, ErrNotFound
	}
	var errs []error
	for _, src := range s.sources {
		value, err := src.Fetch(ctx, key)
		if err == nil {
			metrics.ConfigRefreshes.WithLabelValues(src.Name(), "hit").Inc()
			return value, nil
		}
		if errors.Is(err, ErrNotFound) {
			metrics.ConfigRefreshes.WithLabelValues(src.Name(), "miss").Inc()
			continue
		}
		metrics.ConfigRefreshes.WithLabelValues(src.Name(), "error").Inc()
		errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNotFound
	}
	return nil, errors.Join(errs...)
}

func (s *Service) store(key string, value []byte) {
	s.mu.Lock()
	s.entries[key] = entry{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
}

func (s *Service) readRedis(ctx context.Context, key string) ([]byte, bool) {
	if s.redis == nil {
		return nil, false
	}
	value, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("config cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return nil, false
	}
	return value, true
}

func (s *Service) writeRedis(ctx context.Context, key string, value []byte) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, redisKeyPrefix+key, value, s.redisTTL).Err(); err != nil {
		s.log.Warn("config cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Invalidate drops cached values so the next read goes back to the sources.
// With no keys every entry is dropped.
func (s *Service) Invalidate(ctx context.Context, keys ...string) {
	s.mu.Lock()
	if len(keys) == 0 {
		for k := range s.entries {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if s.redis == nil || len(keys) == 0 {
		return
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = redisKeyPrefix + k
	}
	if err := s.redis.Del(ctx, redisKeys...).Err(); err != nil {
		s.log.Warn("config cache invalidation failed", map[string]interface{}{"error": err.Error()})
	}
}

// InitReport describes what Initialize managed to load.
type InitReport struct {
	Loaded    []string          `json:"loaded"`
	Defaulted map[string]string `json:"defaulted"`
	Duration  time.Duration     `json:"duration"`
	TimedOut  bool              `json:"timedOut"`
}

// Initialize loads every known key concurrently under one timeout, then refreshes registered
// components from what was loaded. It returns once the timeout elapses even if a source ignores
// cancellation. Keys that could not be loaded leave their components on built-in defaults.
func (s *Service) Initialize(ctx context.Context, timeout time.Duration) InitReport {
	start := s.now()
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		loaded = make(map[string]bool, len(s.keys))
		failed = make(map[string]string, len(s.keys))
		wg     sync.WaitGroup
	)
	for _, key := range s.keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := s.Get(initCtx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[key] = err.Error()
				return
			}
			loaded[key] = true
		}(key)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-initCtx.Done():
	}

	report := InitReport{Defaulted: make(map[string]string)}
	mu.Lock()
	for _, key := range s.keys {
		switch {
		case loaded[key]:
			report.Loaded = append(report.Loaded, key)
		case failed[key] != "":
			report.Defaulted[key] = failed[key]
		default:
			report.Defaulted[key] = initCtx.Err().Error()
		}
	}
	mu.Unlock()
	report.TimedOut = errors.Is(initCtx.Err(), context.DeadlineExceeded)
	sort.Strings(report.Loaded)

	s.runRefreshers(withCacheOnly(ctx))
	report.Duration = s.now().Sub(start)
	s.ready.Store(true)

	fields := map[string]interface{}{
		"loaded":    len(report.Loaded),
		"defaulted": len(report.Defaulted),
		"duration":  report.Duration.String(),
		"timedOut":  report.TimedOut,
	}
	if len(report.Defaulted) > 0 {
		s.log.Warn("configuration initialized with defaults", fields)
	} else {
		s.log.Info("configuration initialized", fields)
	}
	return report
}

// Start polls the sources every interval until ctx is done. It blocks; run it in its own goroutine.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll refetches every known key from the sources and refreshes registered components.
// A failed refetch keeps the previous value.
func (s *Service) Poll(ctx context.Context) {
	for _, key := range s.keys {
		value, err := s.fetch(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warn("config poll failed", map[string]interface{}{"key": key, "error": err.Error()})
			}
			continue
		}
		s.store(key, value)
		s.writeRedis(ctx, key, value)
	}
	s.runRefreshers(ctx)
}

// Reload drops cached values and refreshes components, used on file change hints.
func (s *Service) Reload(ctx context.Context) {
	s.Invalidate(ctx)
	s.runRefreshers(ctx)
}

func (s *Service) runRefreshers(ctx context.Context) {
	s.mu.RLock()
	refreshers := append([]Refresher(nil), s.refreshers...)
	s.mu.RUnlock()

	for _, r := range refreshers {
		if err := r.Refresh(ctx); err != nil {
			s.log.Warn("component refresh failed", map[string]interface{}{
				"component": fmt.Sprintf("%T", r),
				"error":     err.Error(),
			})
		}
	}
}
