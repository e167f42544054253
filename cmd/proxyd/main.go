// Command proxyd runs the caching forward proxy: it wires G (CLI/config)
// into F (the Proxy Server), which in turn owns D/E (the cache core).
package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	flag "github.com/spf13/pflag"

	"github.com/ashgrove/cacheproxy/proxy"
)

func main() {
	cfg := proxy.DefaultConfig()

	listen := flag.String("listen", cfg.ListenAddr, "address to accept client connections on")
	statsAddr := flag.String("stats-listen", "", "loopback address to serve /stats on (empty disables it)")
	maxCacheSize := flag.Int("max-cache-size", cfg.MaxCacheSize, "shared response cache byte budget")
	maxObjectSize := flag.Int("max-object-size", cfg.MaxObjectSize, "largest upstream response (status line, headers and body) eligible for caching, in bytes")
	upstreamTimeout := flag.Duration("upstream-timeout", cfg.UpstreamTimeout, "dial and read timeout for origin requests")
	logLevel := flag.String("log-level", "info", "one of: debug, info, warn, error")
	flag.Parse()

	cfg.ListenAddr = *listen
	cfg.StatsAddr = *statsAddr
	cfg.MaxCacheSize = *maxCacheSize
	cfg.MaxObjectSize = *maxObjectSize
	cfg.UpstreamTimeout = *upstreamTimeout

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	logger = level.NewFilter(logger, parseLevel(*logLevel))

	level.Info(logger).Log("msg", "starting proxyd",
		"listen", cfg.ListenAddr,
		"max_cache_size", cfg.MaxCacheSize,
		"max_object_size", cfg.MaxObjectSize,
		"upstream_timeout", cfg.UpstreamTimeout.String(),
	)

	srv := proxy.New(cfg, logger)
	if err := srv.ListenAndServe(); err != nil {
		level.Error(logger).Log("msg", "server exited", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) level.Option {
	switch s {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
