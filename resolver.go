package udns

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ResolverConfig holds the settings for a resolver. Use DefaultConfig to
// get a config with the documented defaults filled in.
type ResolverConfig struct {
	// Depth limit for NS recursion and CNAME chains.
	MaxRecursion int

	// Bound on each query attempt against a single nameserver. Capped
	// at the 5s receive limit.
	QueryTimeout time.Duration

	// Number of attempts per nameserver before giving up.
	MaxRetries int

	// Number of pooled upstream connections.
	ConnPoolSize int

	// Accepted for compatibility, no validation is performed.
	EnableDNSSEC bool

	// Query all nameservers concurrently instead of walking them
	// recursively from the first one.
	EnableParallelQueries bool

	// Upstream nameservers. Parallel mode queries all of them and merges
	// the answers in this order; sequential mode starts from the first
	// one only. Required.
	Nameservers []string
}

// DefaultConfig returns a ResolverConfig with defaults for the given
// nameservers.
func DefaultConfig(nameservers ...string) ResolverConfig {
	return ResolverConfig{
		MaxRecursion:          10,
		QueryTimeout:          5 * time.Second,
		MaxRetries:            3,
		ConnPoolSize:          10,
		EnableDNSSEC:          true,
		EnableParallelQueries: true,
		Nameservers:           nameservers,
	}
}

// Resolver answers DNS queries using a set of upstream nameservers,
// caching the results. It is safe for use by concurrent callers.
type Resolver struct {
	mu       sync.RWMutex // guards config, pool and counters
	config   ResolverConfig
	pool     *ConnPool
	counters CounterSink
	cache    *Cache
	stats    *Stats
}

// NewResolver returns a resolver for the given configuration. At least
// one nameserver is required.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if len(config.Nameservers) == 0 {
		return nil, ErrNoNameservers
	}
	normalizeConfig(&config)
	pool, err := NewConnPool(config.ConnPoolSize, config.Nameservers, PoolOptions{Timeout: config.QueryTimeout})
	if err != nil {
		return nil, err
	}
	stats := NewStats("default")
	return &Resolver{
		config:   config,
		cache:    NewCache(DefaultCacheSize),
		pool:     pool,
		stats:    stats,
		counters: stats,
	}, nil
}

// Resolve answers a query for the domain and record type, from the cache
// when possible.
func (r *Resolver) Resolve(domain string, rtype RecordType) ([]ResourceRecord, error) {
	return r.resolveDepth(domain, rtype, 0)
}

// Internal entry point for resolutions triggered while following a CNAME
// chain. The chase depth carries across the nested calls so that a
// malicious or looping chain stays bounded by MaxRecursion.
func (r *Resolver) resolveDepth(domain string, rtype RecordType, depth int) ([]ResourceRecord, error) {
	start := time.Now()
	r.sink().AddQuery()

	records, err := r.doResolve(domain, rtype, depth, start)
	if err != nil {
		r.sink().AddFailure()
		logger(domain, rtype).WithError(err).Error("resolution failed")
		return nil, err
	}
	return records, nil
}

func (r *Resolver) doResolve(domain string, rtype RecordType, depth int, start time.Time) ([]ResourceRecord, error) {
	cfg := r.getConfig()
	log := logger(domain, rtype)

	key := cacheKey(domain, rtype)
	if records, ok := r.cache.Get(key); ok {
		r.sink().AddCacheHit()
		log.Debug("cache-hit")
		return records, nil
	}
	r.sink().AddCacheMiss()
	log.Debug("cache-miss, querying upstream")

	var records []ResourceRecord
	var err error
	if cfg.EnableParallelQueries {
		records, err = r.resolveParallel(domain, rtype, cfg)
	} else {
		records, err = r.recursiveResolve(domain, rtype, 0, cfg.Nameservers[0], cfg)
	}
	if err != nil {
		return nil, err
	}

	ok, err := r.followCNAMEChain(&records, domain, depth, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, CNAMEChainError{Domain: domain}
	}

	r.cache.Put(key, records)
	r.sink().AddResolutionTime(time.Since(start))
	return records, nil
}

// AsyncResult is the handle to a resolution running in the background.
type AsyncResult struct {
	done    chan struct{}
	records []ResourceRecord
	err     error
}

// Wait blocks until the resolution completed and returns its outcome. It
// can be called multiple times.
func (a *AsyncResult) Wait() ([]ResourceRecord, error) {
	<-a.done
	return a.records, a.err
}

// ResolveAsync starts a resolution in the background and returns a handle
// to wait on.
func (r *Resolver) ResolveAsync(domain string, rtype RecordType) *AsyncResult {
	result := &AsyncResult{done: make(chan struct{})}
	go func() {
		defer close(result.done)
		result.records, result.err = r.Resolve(domain, rtype)
	}()
	return result
}

// Query every nameserver concurrently and merge the answers in
// configured nameserver order. A failing nameserver contributes no
// records; the call fails only if all of them fail.
func (r *Resolver) resolveParallel(domain string, rtype RecordType, cfg ResolverConfig) ([]ResourceRecord, error) {
	results := make([][]ResourceRecord, len(cfg.Nameservers))
	errs := make([]error, len(cfg.Nameservers))

	var wg sync.WaitGroup
	for i, ns := range cfg.Nameservers {
		wg.Add(1)
		go func(i int, ns string) {
			defer wg.Done()
			records, err := r.queryNameserver(ns, domain, rtype, cfg)
			if err != nil {
				logger(domain, rtype).WithField("nameserver", ns).WithError(err).Warn("parallel resolution failed")
				errs[i] = err
				return
			}
			results[i] = records
		}(i, ns)
	}
	wg.Wait()

	var combined []ResourceRecord
	var failed int
	for i, records := range results {
		if errs[i] != nil {
			failed++
			continue
		}
		combined = append(combined, records...)
	}
	if failed == len(cfg.Nameservers) {
		return nil, errors.Wrap(errs[0], "all nameservers failed")
	}
	return combined, nil
}

// Walk nameservers recursively starting from ns: query it, then follow
// any NS records in the answer up to the depth limit, aggregating all
// records seen along the way.
func (r *Resolver) recursiveResolve(domain string, rtype RecordType, depth int, ns string, cfg ResolverConfig) ([]ResourceRecord, error) {
	if depth >= cfg.MaxRecursion {
		return nil, RecursionLimitError{Depth: depth}
	}
	records, err := r.queryNameserver(ns, domain, rtype, cfg)
	if err != nil {
		return nil, err
	}
	// Chase the NS records of this answer only, not the ones brought in
	// by deeper levels
	for _, record := range records {
		if record.Type != TypeNS || len(record.Data) == 0 {
			continue
		}
		nsRecords, err := r.recursiveResolve(domain, rtype, depth+1, record.Data[0], cfg)
		if err != nil {
			return nil, err
		}
		records = append(records, nsRecords...)
	}
	return records, nil
}

// Send one query to the nameserver and decode the response, making at
// most MaxRetries attempts in total. Nameservers outside the configured set, such as
// ones discovered through NS records, are reached over a one-shot
// connection instead of the pool.
func (r *Resolver) queryNameserver(ns, domain string, rtype RecordType, cfg ResolverConfig) ([]ResourceRecord, error) {
	log := logger(domain, rtype).WithField("nameserver", ns)
	log.Debug("querying nameserver")

	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		conn, release, err := r.connectionFor(ns, cfg)
		if err != nil {
			return nil, err
		}
		records, err := exchange(conn, domain, rtype)
		release(conn)
		if err == nil {
			log.WithField("records", len(records)).Debug("received response")
			return records, nil
		}
		lastErr = err
		log.WithError(err).Debug("query attempt failed")
		// A non-zero RCODE is an answer, not a transient fault
		if _, ok := err.(ServerError); ok {
			break
		}
	}
	return nil, lastErr
}

// Returns a connection bound to ns along with the function to dispose of
// it. Pooled connections are released back to the pool, one-shot
// connections are closed.
func (r *Resolver) connectionFor(ns string, cfg ResolverConfig) (*PooledConn, func(*PooledConn), error) {
	pool := r.getPool()
	conn, err := pool.Acquire(ns)
	if err == nil {
		return conn, pool.Release, nil
	}
	if _, ok := errors.Cause(err).(NoConnectionError); !ok {
		return nil, nil, errors.Wrap(err, "failed to acquire connection from pool")
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 || timeout > recvTimeout {
		timeout = recvTimeout
	}
	conn, err = dialNameserver(ns, timeout)
	if err != nil {
		return nil, nil, err
	}
	return conn, func(c *PooledConn) { c.Close() }, nil
}

func exchange(conn *PooledConn, domain string, rtype RecordType) ([]ResourceRecord, error) {
	if err := conn.SendQuery(domain, rtype); err != nil {
		return nil, err
	}
	return conn.ReadResponse()
}

// Resolve the target of every CNAME in records as an A query and append
// the results, following chains transitively. Returns false once the
// number of CNAMEs followed reaches the recursion limit.
func (r *Resolver) followCNAMEChain(records *[]ResourceRecord, domain string, depth int, cfg ResolverConfig) (bool, error) {
	for i := 0; i < len(*records); i++ {
		record := (*records)[i]
		if record.Type != TypeCNAME || len(record.Data) == 0 {
			continue
		}
		if depth >= cfg.MaxRecursion {
			return false, nil
		}
		depth++
		target := record.Data[0]
		logger(domain, record.Type).WithField("target", target).Debug("following cname")
		cnameRecords, err := r.resolveDepth(target, TypeA, depth)
		if err != nil {
			return false, err
		}
		*records = append(*records, cnameRecords...)
	}
	return true, nil
}

// ClearCache drops all cached records.
func (r *Resolver) ClearCache() {
	r.cache.Clear()
}

// Stats returns a snapshot of the built-in statistics counters.
func (r *Resolver) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// SetCounterSink replaces the counter sink receiving statistics updates.
// The built-in counters reported by Stats stop updating.
func (r *Resolver) SetCounterSink(sink CounterSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = sink
}

// SetConfig replaces the resolver configuration. The connection pool is
// rebuilt for the new nameserver set and the old pool is closed. In-flight
// queries holding an old connection finish their exchange on it; queries
// waiting to acquire from the old pool fail, and later retry attempts use
// the new pool.
func (r *Resolver) SetConfig(config ResolverConfig) error {
	if len(config.Nameservers) == 0 {
		return ErrNoNameservers
	}
	normalizeConfig(&config)
	pool, err := NewConnPool(config.ConnPoolSize, config.Nameservers, PoolOptions{Timeout: config.QueryTimeout})
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.pool
	r.config = config
	r.pool = pool
	r.mu.Unlock()
	old.Close()
	return nil
}

func normalizeConfig(config *ResolverConfig) {
	if config.MaxRecursion <= 0 {
		config.MaxRecursion = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
}

func (r *Resolver) getConfig() ResolverConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

func (r *Resolver) getPool() *ConnPool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

func (r *Resolver) sink() CounterSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters
}
