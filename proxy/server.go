// Package proxy implements the proxy server: the accept loop,
// per-connection worker, and upstream relay that sit in front of the
// shared response cache. Every worker goroutine calls the cache's four
// primitives directly; all cross-worker coordination is internal to the
// cache package, so this package holds no lock of its own around cache
// state.
package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashgrove/cacheproxy/cache"
)

// Server is one running proxy: a cache instance, its configuration, and
// the listeners that feed it. It owns no mutable state beyond what's
// needed to start and stop cleanly.
type Server struct {
	cfg    Config
	cache  *cache.Cache
	logger log.Logger
}

// New constructs a Server. The cache is sized from cfg.MaxCacheSize.
func New(cfg Config, logger log.Logger) *Server {
	return &Server{
		cfg:    cfg,
		cache:  cache.New(cfg.MaxCacheSize),
		logger: logger,
	}
}

// Cache exposes the underlying cache, mainly so callers can Close it
// deterministically in tests without tearing down a whole Server.
func (s *Server) Cache() *cache.Cache { return s.cache }

// ListenAndServe runs the accept loop until the listener is closed. Each
// accepted connection is handed to its own worker goroutine; all workers
// share a single cache instance.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	defer ln.Close()

	if s.cfg.StatsAddr != "" {
		go s.serveStats()
	}

	level.Info(s.logger).Log("msg", "proxy listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// serveStats runs the Prometheus debug endpoint on cfg.StatsAddr, bound
// as given. It is best-effort: a failure here never affects request
// handling.
func (s *Server) serveStats() {
	reg := prometheus.NewRegistry()
	newMetrics(reg,
		func() float64 { return float64(s.cache.Stats().Hits) },
		func() float64 { return float64(s.cache.Stats().Misses) },
		func() float64 { return float64(s.cache.Stats().Evictions) },
		func() float64 { return float64(s.cache.BytesUsed()) },
	)

	mux := http.NewServeMux()
	mux.Handle("/stats", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(s.cfg.StatsAddr, mux); err != nil {
		level.Error(s.logger).Log("msg", "stats endpoint stopped", "err", err)
	}
}

// handleConn serves exactly one request per connection: read, serve from
// cache or upstream, close. Keep-alive is out of scope: the relayed
// request always asks the origin for Connection: close.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := readRequest(br)
	if err != nil {
		level.Debug(s.logger).Log("msg", "malformed request", "err", err)
		writeStatusLine(conn, 400, "Bad Request")
		return
	}

	if req.method != http.MethodGet {
		level.Debug(s.logger).Log("msg", "unsupported method", "method", req.method)
		writeStatusLine(conn, 501, "Not Implemented")
		return
	}

	s.serveGet(conn, req)
}

// serveGet implements the cache-or-relay decision: a hit writes the
// cached bytes directly from the read-handle and releases it once
// written (the handle's lifetime never outlives this function); a miss
// falls through to the upstream relay.
func (s *Server) serveGet(conn net.Conn, req *request) {
	key := req.cacheKey()

	if h, ok := s.cache.Find(key); ok {
		defer h.Release()
		if _, err := conn.Write(h.Value()); err != nil {
			level.Debug(s.logger).Log("msg", "client write failed on hit", "err", err)
		}
		return
	}

	s.relayAndCache(conn, req, key)
}

// relayAndCache dials the origin, relays the request, and buffers the
// response up to MaxObjectSize. A response that fits is written to the
// client and inserted into the cache; one that doesn't is relayed
// byte-identical but never reaches the cache.
func (s *Server) relayAndCache(conn net.Conn, req *request, key []byte) {
	if req.host == "" {
		writeStatusLine(conn, 400, "Bad Request")
		return
	}

	upstream, err := net.DialTimeout("tcp", req.dialAddr(), s.cfg.UpstreamTimeout)
	if err != nil {
		level.Debug(s.logger).Log("msg", "upstream dial failed", "host", req.host, "err", err)
		writeStatusLine(conn, 502, "Bad Gateway")
		return
	}
	defer upstream.Close()
	upstream.SetDeadline(time.Now().Add(s.cfg.UpstreamTimeout))

	if _, err := upstream.Write(req.upstreamBytes()); err != nil {
		level.Debug(s.logger).Log("msg", "upstream write failed", "host", req.host, "err", err)
		writeStatusLine(conn, 502, "Bad Gateway")
		return
	}

	ur := bufio.NewReader(upstream)
	limit := s.cfg.MaxObjectSize
	buf := make([]byte, 0, limit+1)
	chunk := make([]byte, 8192)
	readFailed := false

	for len(buf) <= limit {
		n, rerr := ur.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			level.Debug(s.logger).Log("msg", "upstream read failed", "host", req.host, "err", rerr)
			if len(buf) == 0 {
				writeStatusLine(conn, 502, "Bad Gateway")
				return
			}
			readFailed = true
			break
		}
	}

	if _, err := conn.Write(buf); err != nil {
		level.Debug(s.logger).Log("msg", "client write failed on miss", "err", err)
		return
	}

	if readFailed {
		// A response cut short by an upstream error is relayed as far as
		// it got but never cached.
		return
	}
	if len(buf) > 0 && len(buf) <= limit {
		res := s.cache.Insert(key, buf)
		level.Debug(s.logger).Log("msg", "cache insert", "result", res.String(), "bytes", len(buf))
		return
	}
	if len(buf) <= limit {
		return
	}

	// Oversized: the buffered prefix has already gone to the client;
	// stream whatever the origin still has queued, uncached.
	if _, err := io.Copy(conn, ur); err != nil {
		level.Debug(s.logger).Log("msg", "client write failed streaming oversized response", "err", err)
	}
}

func writeStatusLine(conn net.Conn, code int, text string) {
	fmt.Fprintf(conn, "HTTP/1.0 %d %s\r\nConnection: close\r\n\r\n", code, text)
}
