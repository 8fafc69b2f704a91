package main

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/kvcache/internal/cache"
	"github.com/leonardcser/kvcache/internal/config"
	"github.com/leonardcser/kvcache/internal/logger"
	"github.com/leonardcser/kvcache/internal/store"
	tools "github.com/leonardcser/kvcache/internal/tools"
)

const daemonBinary = "kvcache-store"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting kvcache MCP server")

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		panic(err)
	}

	hs, closeStore, err := openStore(cfg.Store)
	if err != nil {
		logger.Errorf("Failed to open %s store: %v", cfg.Store.Backend, err)
		panic(err)
	}
	defer closeStore()
	logger.Infof("Opened %s store", cfg.Store.Backend)

	reg := cache.New(hs, cache.Options{
		TimeUnitMillis: cfg.TimeUnitMillis,
		Warnings:       cfg.Warnings,
		Diagnostics:    cache.NewZapDiagnostics(logger.L()),
	})
	if !reg.Supported() {
		logger.Warnf("Host store failed the capability check; cache operations are disabled")
	}

	s := server.NewMCPServer(
		"kvcache",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	bucketArg := mcp.WithString("bucket", mcp.Description("Bucket (namespace) name; empty for the default bucket"))

	s.AddTool(mcp.NewTool("cache-get",
		mcp.WithDescription(multiline(
			"Reads a value from the cache",
			"- Returns the stored JSON value, or 'Not found.' when missing or expired",
			"- Reading an expired item removes it",
		)),
		bucketArg,
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to read")),
	), tools.CacheGetHandler(reg))

	s.AddTool(mcp.NewTool("cache-set",
		mcp.WithDescription(multiline(
			"Stores a value in the cache",
			"- The value is stored as JSON when it parses as JSON, as text otherwise",
			ttlHint(cfg.TimeUnitMillis),
			"- When the store is full, the soonest-expiring items of the bucket are evicted",
		)),
		bucketArg,
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to write")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The value to store")),
		mcp.WithNumber("ttl", mcp.Description("Time units until the item expires; 0 or absent never expires")),
	), tools.CacheSetHandler(reg))

	s.AddTool(mcp.NewTool("cache-remove",
		mcp.WithDescription("Removes a key and its expiration from the cache"),
		bucketArg,
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to remove")),
	), tools.CacheRemoveHandler(reg))

	s.AddTool(mcp.NewTool("cache-flush",
		mcp.WithDescription("Removes every item of a bucket, or only its expired items"),
		bucketArg,
		mcp.WithBoolean("expired_only", mcp.Description("Only remove expired items")),
	), tools.CacheFlushHandler(reg))

	s.AddTool(mcp.NewTool("cache-keys",
		mcp.WithDescription("Lists the keys of a bucket"),
		bucketArg,
		mcp.WithString("pattern", mcp.Description("Glob pattern the keys must match, e.g. user:*")),
	), tools.CacheKeysHandler(reg))
	logger.Infof("Registered cache tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

func ttlHint(unitMillis int64) string {
	return "- ttl is counted in time units of " + time.Duration(unitMillis*int64(time.Millisecond)).String()
}

func openStore(cfg config.Store) (store.HostStore, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(cfg.MaxBytes), func() {}, nil
	case config.BackendBolt:
		_ = os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755)
		s, err := store.OpenBolt(cfg.BoltPath, store.BoltOptions{MaxBytes: cfg.MaxBytes})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendEtcd:
		s, err := store.DialEtcd(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout, store.EtcdOptions{
			Prefix:   cfg.Etcd.Prefix,
			MaxBytes: cfg.MaxBytes,
			Timeout:  cfg.Etcd.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		c, err := connectStore(cfg.Socket)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

// connectStore connects to the store daemon, starting it if needed.
func connectStore(sock string) (*store.Client, error) {
	logger.Infof("Attempting to connect to store daemon at %s", sock)
	client, err := dialStore(sock)
	if err == nil {
		return client, nil
	}
	logger.Warnf("Failed to connect to store daemon: %v, attempting to start daemon", err)
	if startErr := startStoreDaemon(); startErr != nil {
		logger.Errorf("Failed to start store daemon: %v", startErr)
	} else {
		logger.Infof("Store daemon started successfully")
	}
	// wait for socket to appear
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client, err = dialStore(sock); err == nil {
			return client, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, err
}

func dialStore(sock string) (*store.Client, error) {
	conn, err := net.DialTimeout("unix", sock, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	_ = conn.Close()
	return store.NewClient(sock), nil
}

func startStoreDaemon() error {
	// 1) Try the daemon binary next to this server executable
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), daemonBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return startDetached(sibling)
		}
	}

	// 2) Try PATH binary
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return startDetached(path)
	}

	// 3) Try local binary in current working directory (best-effort)
	if _, err := os.Stat("./" + daemonBinary); err == nil {
		return startDetached("./" + daemonBinary)
	}

	return exec.ErrNotFound
}

func startDetached(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()
	return cmd.Start()
}
