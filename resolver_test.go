package udns

import (
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// Starts a fake nameserver on a local UDP port and returns its address.
// The handler builds the response for each received query; a nil response
// drops the query.
func runFakeNS(t *testing.T, handler func(q *dns.Msg) *dns.Msg) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buffer := make([]byte, maxResponseSize)
		for {
			n, addr, err := pc.ReadFrom(buffer)
			if err != nil {
				return
			}
			var q dns.Msg
			if err := q.Unpack(buffer[:n]); err != nil || len(q.Question) == 0 {
				continue
			}
			a := handler(&q)
			if a == nil {
				continue
			}
			a.Id = q.Id
			wire, err := a.Pack()
			if err != nil {
				continue
			}
			pc.WriteTo(wire, addr)
		}
	}()
	return pc.LocalAddr().String()
}

// Handler answering every query with one A record.
func answerA(ip string, ttl uint32) func(*dns.Msg) *dns.Msg {
	return func(q *dns.Msg) *dns.Msg {
		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
			A:   net.ParseIP(ip).To4(),
		}}
		return a
	}
}

// Handler answering with a CNAME according to the given target map, and
// with an A record otherwise.
func answerCNAME(targets map[string]string, ip string) func(*dns.Msg) *dns.Msg {
	return func(q *dns.Msg) *dns.Msg {
		a := new(dns.Msg)
		a.SetReply(q)
		name := q.Question[0].Name
		if target, ok := targets[name]; ok {
			a.Answer = []dns.RR{&dns.CNAME{
				Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60},
				Target: target,
			}}
			return a
		}
		a.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
			A:   net.ParseIP(ip).To4(),
		}}
		return a
	}
}

func testConfig(nameservers ...string) ResolverConfig {
	config := DefaultConfig(nameservers...)
	config.ConnPoolSize = 4
	config.QueryTimeout = time.Second
	config.MaxRetries = 1
	return config
}

func TestResolverNoNameservers(t *testing.T) {
	_, err := NewResolver(ResolverConfig{})
	require.ErrorIs(t, err, ErrNoNameservers)
}

func TestResolveSimple(t *testing.T) {
	addr := runFakeNS(t, answerA("93.184.216.34", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	records, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, TypeA, records[0].Type)
	require.Equal(t, "example.com", records[0].Name)
	require.Equal(t, []string{"93.184.216.34"}, records[0].Data)

	stats := r.Stats()
	require.Equal(t, uint64(1), stats.TotalQueries)
	require.Equal(t, uint64(0), stats.CacheHits)
	require.Equal(t, uint64(1), stats.CacheMisses)
}

func TestResolveCached(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	first, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	second, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	require.True(t, first[0].Equal(second[0]))
	require.LessOrEqual(t, second[0].TTL, first[0].TTL)

	stats := r.Stats()
	require.Equal(t, uint64(2), stats.TotalQueries)
	require.Equal(t, uint64(1), stats.CacheHits)
	require.Equal(t, uint64(1), stats.CacheMisses)
}

// Parallel answers are merged in configured nameserver order.
func TestResolveParallelMergeOrder(t *testing.T) {
	addr1 := runFakeNS(t, answerA("10.0.0.1", 300))
	addr2 := runFakeNS(t, answerA("10.0.0.2", 300))

	r, err := NewResolver(testConfig(addr1, addr2))
	require.NoError(t, err)

	records, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"10.0.0.1"}, records[0].Data)
	require.Equal(t, []string{"10.0.0.2"}, records[1].Data)
}

// A nameserver that doesn't answer contributes nothing, the rest of the
// fan-out still succeeds.
func TestResolveBranchFailure(t *testing.T) {
	silent := runFakeNS(t, func(q *dns.Msg) *dns.Msg { return nil })
	addr := runFakeNS(t, answerA("10.0.0.2", 300))

	config := testConfig(silent, addr)
	config.QueryTimeout = 200 * time.Millisecond
	r, err := NewResolver(config)
	require.NoError(t, err)

	records, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []string{"10.0.0.2"}, records[0].Data)

	stats := r.Stats()
	require.Equal(t, uint64(0), stats.FailedQueries)
}

func TestResolveAllBranchesFail(t *testing.T) {
	silent1 := runFakeNS(t, func(q *dns.Msg) *dns.Msg { return nil })
	silent2 := runFakeNS(t, func(q *dns.Msg) *dns.Msg { return nil })

	config := testConfig(silent1, silent2)
	config.QueryTimeout = 200 * time.Millisecond
	r, err := NewResolver(config)
	require.NoError(t, err)

	_, err = r.Resolve("example.com", TypeA)
	require.Error(t, err)

	stats := r.Stats()
	require.Equal(t, uint64(1), stats.FailedQueries)
}

func TestResolveServerError(t *testing.T) {
	addr := runFakeNS(t, func(q *dns.Msg) *dns.Msg {
		a := new(dns.Msg)
		a.SetRcode(q, dns.RcodeNameError)
		return a
	})

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	_, err = r.Resolve("doesnotexist.example.com", TypeA)
	var serr ServerError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, 3, serr.Rcode)

	stats := r.Stats()
	require.Equal(t, uint64(1), stats.FailedQueries)
}

func TestResolveCNAMEChain(t *testing.T) {
	addr := runFakeNS(t, answerCNAME(map[string]string{
		"www.example.com.": "example.com.",
	}, "93.184.216.34"))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	records, err := r.Resolve("www.example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, TypeCNAME, records[0].Type)
	require.Equal(t, []string{"example.com"}, records[0].Data)
	require.Equal(t, TypeA, records[1].Type)
	require.Equal(t, "example.com", records[1].Name)

	// Both the original name and the chased target are now cached
	_, ok := r.cache.Get(cacheKey("www.example.com", TypeA))
	require.True(t, ok)
	_, ok = r.cache.Get(cacheKey("example.com", TypeA))
	require.True(t, ok)
}

// A CNAME loop must terminate with an error instead of recursing forever.
func TestResolveCNAMELoop(t *testing.T) {
	addr := runFakeNS(t, answerCNAME(map[string]string{
		"loop-a.test.": "loop-b.test.",
		"loop-b.test.": "loop-a.test.",
	}, "10.0.0.1"))

	config := testConfig(addr)
	config.MaxRecursion = 4
	r, err := NewResolver(config)
	require.NoError(t, err)

	_, err = r.Resolve("loop-a.test", TypeA)
	var cerr CNAMEChainError
	require.ErrorAs(t, err, &cerr)
}

func TestRecursionLimit(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	config := testConfig(addr)
	config.EnableParallelQueries = false
	r, err := NewResolver(config)
	require.NoError(t, err)

	_, err = r.recursiveResolve("example.com", TypeA, config.MaxRecursion, addr, config)
	var rerr RecursionLimitError
	require.ErrorAs(t, err, &rerr)
}

// In sequential mode, NS records in the answer are chased against the
// named server.
func TestResolveSequentialNSChase(t *testing.T) {
	leaf := runFakeNS(t, answerA("10.0.0.7", 300))
	root := runFakeNS(t, func(q *dns.Msg) *dns.Msg {
		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = []dns.RR{&dns.NS{
			Hdr: dns.RR_Header{Name: q.Question[0].Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
			Ns:  leaf + ".",
		}}
		return a
	})

	config := testConfig(root)
	config.EnableParallelQueries = false
	r, err := NewResolver(config)
	require.NoError(t, err)

	records, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, TypeNS, records[0].Type)
	require.Equal(t, []string{leaf}, records[0].Data)
	require.Equal(t, TypeA, records[1].Type)
	require.Equal(t, []string{"10.0.0.7"}, records[1].Data)
}

func TestResolveAsync(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	result := r.ResolveAsync("example.com", TypeA)
	records, err := result.Wait()
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Waiting again returns the same outcome
	again, err := result.Wait()
	require.NoError(t, err)
	require.Equal(t, records, again)
}

func TestResolveConcurrent(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	var results []*AsyncResult
	for i := 0; i < 20; i++ {
		domain := "test" + strings.Repeat("x", i%3) + ".example.com"
		results = append(results, r.ResolveAsync(domain, TypeA))
	}
	for _, result := range results {
		records, err := result.Wait()
		require.NoError(t, err)
		require.NotEmpty(t, records)
	}

	stats := r.Stats()
	require.Equal(t, uint64(20), stats.TotalQueries)
	require.Equal(t, stats.TotalQueries, stats.CacheHits+stats.CacheMisses)
}

func TestClearCache(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	_, err = r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	r.ClearCache()
	_, err = r.Resolve("example.com", TypeA)
	require.NoError(t, err)

	stats := r.Stats()
	require.Equal(t, uint64(2), stats.CacheMisses)
	require.Equal(t, uint64(0), stats.CacheHits)
}

func TestSetConfig(t *testing.T) {
	addr1 := runFakeNS(t, answerA("10.0.0.1", 300))
	addr2 := runFakeNS(t, answerA("10.0.0.2", 300))

	r, err := NewResolver(testConfig(addr1))
	require.NoError(t, err)

	require.ErrorIs(t, r.SetConfig(ResolverConfig{}), ErrNoNameservers)

	require.NoError(t, r.SetConfig(testConfig(addr2)))
	records, err := r.Resolve("example.com", TypeA)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.2"}, records[0].Data)
}

type countingSink struct {
	queries uint64
	hits    uint64
	misses  uint64
	failed  uint64
	elapsed int64
}

func (s *countingSink) AddQuery()     { atomic.AddUint64(&s.queries, 1) }
func (s *countingSink) AddCacheHit()  { atomic.AddUint64(&s.hits, 1) }
func (s *countingSink) AddCacheMiss() { atomic.AddUint64(&s.misses, 1) }
func (s *countingSink) AddFailure()   { atomic.AddUint64(&s.failed, 1) }
func (s *countingSink) AddResolutionTime(d time.Duration) {
	atomic.AddInt64(&s.elapsed, int64(d))
}

func TestSetCounterSink(t *testing.T) {
	addr := runFakeNS(t, answerA("10.0.0.1", 300))

	r, err := NewResolver(testConfig(addr))
	require.NoError(t, err)

	sink := &countingSink{}
	r.SetCounterSink(sink)

	_, err = r.Resolve("example.com", TypeA)
	require.NoError(t, err)

	require.Equal(t, uint64(1), atomic.LoadUint64(&sink.queries))
	require.Equal(t, uint64(1), atomic.LoadUint64(&sink.misses))
	require.Greater(t, atomic.LoadInt64(&sink.elapsed), int64(0))

	// The built-in counters no longer move
	require.Equal(t, uint64(0), r.Stats().TotalQueries)
}
