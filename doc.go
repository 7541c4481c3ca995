/*
Package udns implements a caching, concurrent DNS stub resolver that sends
plain wire-format queries over UDP to a configurable set of upstream
nameservers. There are 4 fundamental pieces in this library.

Wire codec

BuildQuery and ParseResponse translate between (domain, record type) pairs
and DNS datagrams as defined in RFC 1035, including name compression and
per-type rdata decoding into ResourceRecord values.

Cache

A fixed-capacity cache maps (domain, type) to previously received records.
Entries are evicted least-recently-used first, and records read from the
cache report a TTL reduced by the time already spent in it.

Connection pool

A bounded pool of UDP connections, each bound to one of the configured
nameservers. Callers acquire a connection for a specific nameserver,
exchange one query/response pair on it, and release it back.

Resolver

The resolver ties the pieces together: it consults the cache, fans queries
out to all configured nameservers in parallel (or walks them recursively),
follows CNAME chains, and records statistics about its work.
*/
package udns
