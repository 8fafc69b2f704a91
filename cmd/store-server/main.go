package main

import (
	"net"
	"os"
	"path/filepath"

	"github.com/leonardcser/kvcache/internal/config"
	"github.com/leonardcser/kvcache/internal/logger"
	"github.com/leonardcser/kvcache/internal/store"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("load config: %v", err)
		panic(err)
	}
	sock := cfg.Store.Socket

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(sock), 0o755)
	_ = os.Remove(sock)

	l, err := net.Listen("unix", sock)
	if err != nil {
		logger.Errorf("listen on %s: %v", sock, err)
		panic(err)
	}
	defer l.Close()
	_ = os.Chmod(sock, 0o600)

	_ = os.MkdirAll(filepath.Dir(cfg.Store.BoltPath), 0o755)
	hs, err := store.OpenBolt(cfg.Store.BoltPath, store.BoltOptions{MaxBytes: cfg.Store.MaxBytes})
	if err != nil {
		logger.Errorf("open store: %v", err)
		panic(err)
	}
	defer hs.Close()
	logger.Infof("Serving %s on %s (max %d bytes)", cfg.Store.BoltPath, sock, cfg.Store.MaxBytes)

	for {
		conn, err := l.Accept()
		if err != nil {
			continue
		}
		go store.ServeConn(conn, hs)
	}
}
