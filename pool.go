package udns

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPoolSize is the number of pooled connections unless
	// configured otherwise.
	DefaultPoolSize = 10

	// Largest response datagram accepted from a nameserver.
	maxResponseSize = 4096

	// Upper bound on the time to wait for a response datagram.
	recvTimeout = 5 * time.Second
)

// PooledConn is one UDP connection bound to a nameserver. It is owned by
// the pool when idle and by exactly one caller between Acquire and
// Release.
type PooledConn struct {
	addr    string // nameserver as configured, without port
	conn    net.Conn
	timeout time.Duration
	valid   bool
}

// SendQuery builds a wire-format query for the domain and type and sends
// it to the nameserver this connection is bound to.
func (p *PooledConn) SendQuery(domain string, rtype RecordType) error {
	query, err := BuildQuery(domain, rtype)
	if err != nil {
		return err
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		p.valid = false
		return errors.Wrap(err, "failed to set write deadline")
	}
	if _, err := p.conn.Write(query); err != nil {
		p.valid = false
		return errors.Wrap(err, "failed to send query")
	}
	return nil
}

// ReadResponse reads one response datagram from the nameserver and
// decodes its answer records.
func (p *PooledConn) ReadResponse() ([]ResourceRecord, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		p.valid = false
		return nil, RecvError{Err: err}
	}
	buffer := make([]byte, maxResponseSize)
	received, err := p.conn.Read(buffer)
	if err != nil {
		if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
			p.valid = false
		}
		return nil, RecvError{Err: err}
	}
	if received <= 0 {
		return nil, RecvError{Err: errors.New("empty datagram")}
	}
	return ParseResponse(buffer[:received])
}

// Close releases the underlying socket.
func (p *PooledConn) Close() error {
	p.valid = false
	return p.conn.Close()
}

// PoolOptions contain settings for a connection pool.
type PoolOptions struct {
	// Bound on each send/receive operation. Values of 0 or above the
	// 5s receive limit default to that limit.
	Timeout time.Duration
}

// ConnPool holds up to poolSize idle UDP connections, indexed by the
// nameserver they are bound to. Acquire hands exclusive ownership of a
// connection to the caller, Release returns it.
type ConnPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	idle   map[string][]*PooledConn
	counts map[string]int // live connections per nameserver, idle or acquired
	opt    PoolOptions
	closed bool
}

// NewConnPool creates size connections, distributed round-robin over the
// nameservers. Nameservers may be given as bare IPv4/IPv6 literals, in
// which case port 53 is used, or as host:port pairs.
func NewConnPool(size int, nameservers []string, opt PoolOptions) (*ConnPool, error) {
	if len(nameservers) == 0 {
		return nil, ErrNoNameservers
	}
	if size <= 0 {
		size = DefaultPoolSize
	}
	if opt.Timeout <= 0 || opt.Timeout > recvTimeout {
		opt.Timeout = recvTimeout
	}

	p := &ConnPool{
		idle:   make(map[string][]*PooledConn),
		counts: make(map[string]int),
		opt:    opt,
	}
	p.cond = sync.NewCond(&p.mu)

	var total int
	for i := 0; i < size; i++ {
		ns := nameservers[i%len(nameservers)]
		conn, err := dialNameserver(ns, opt.Timeout)
		if err != nil {
			Log.WithError(err).WithField("nameserver", ns).Warn("failed to create pool connection")
			continue
		}
		p.idle[ns] = append(p.idle[ns], conn)
		p.counts[ns]++
		total++
	}
	if total == 0 {
		return nil, ErrNoValidConnections
	}
	return p, nil
}

func dialNameserver(ns string, timeout time.Duration) (*PooledConn, error) {
	conn, err := net.Dial("udp", nsAddr(ns))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to nameserver %s", ns)
	}
	return &PooledConn{addr: ns, conn: conn, timeout: timeout, valid: true}, nil
}

// Return the address with the default DNS port appended if the nameserver
// didn't come with one. IPv6 literals are bracketed.
func nsAddr(ns string) string {
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns
	}
	return net.JoinHostPort(ns, "53")
}

// Acquire blocks until a connection bound to the given nameserver is
// available and returns it. It fails immediately if the pool holds no
// connection for that nameserver at all, or if the pool was closed.
func (p *ConnPool) Acquire(ns string) (*PooledConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, errors.New("pool is closed")
		}
		if conns := p.idle[ns]; len(conns) > 0 {
			conn := conns[0]
			p.idle[ns] = conns[1:]
			return conn, nil
		}
		if p.counts[ns] == 0 {
			return nil, NoConnectionError{Nameserver: ns}
		}
		p.cond.Wait()
	}
}

// Release returns a connection to the pool and wakes waiters. An
// invalid connection is retired and replaced with a fresh one to the
// same nameserver if possible.
func (p *ConnPool) Release(conn *PooledConn) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		return
	}
	if !conn.valid {
		conn.Close()
		replacement, err := dialNameserver(conn.addr, p.opt.Timeout)
		if err != nil {
			p.counts[conn.addr]--
			Log.WithError(err).WithField("nameserver", conn.addr).Warn("failed to replace pool connection")
			// Waiters for this nameserver may no longer have a
			// connection to wait for
			p.cond.Broadcast()
			return
		}
		conn = replacement
	}
	p.idle[conn.addr] = append(p.idle[conn.addr], conn)
	// Waiters are keyed by nameserver, a targeted wake-up isn't possible
	// with a single condition variable
	p.cond.Broadcast()
}

// Close shuts down all idle connections and unblocks waiters. Connections
// currently acquired are closed as they are released.
func (p *ConnPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conns := range p.idle {
		for _, conn := range conns {
			conn.Close()
		}
	}
	p.idle = make(map[string][]*PooledConn)
	p.cond.Broadcast()
}

// Size returns the number of idle connections in the pool.
func (p *ConnPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, conns := range p.idle {
		n += len(conns)
	}
	return n
}
