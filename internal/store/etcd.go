package store

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdOptions configures an EtcdStore.
type EtcdOptions struct {
	// Prefix scopes every key the store touches.
	Prefix string
	// MaxBytes caps the summed key and value sizes under Prefix. <= 0 leaves
	// the limit to the etcd server's own space quota.
	MaxBytes int64
	// Timeout bounds each etcd call.
	Timeout time.Duration
}

// EtcdStore is a HostStore on top of an etcd keyspace. Both the local MaxBytes
// limit and the server's "database space exceeded" alarm surface as
// CodeQuotaExceeded.
type EtcdStore struct {
	kv       clientv3.KV
	closer   func() error
	prefix   string
	maxBytes int64
	timeout  time.Duration

	mu   sync.Mutex
	used int64
}

// DialEtcd connects to endpoints and opens a store over the client.
func DialEtcd(endpoints []string, dialTimeout time.Duration, opts EtcdOptions) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: dialTimeout})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "connect to etcd")
	}
	s, err := NewEtcdStore(cli, opts)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	s.closer = cli.Close
	return s, nil
}

// NewEtcdStore wraps kv. The bytes already stored under the prefix count
// toward MaxBytes.
func NewEtcdStore(kv clientv3.KV, opts EtcdOptions) (*EtcdStore, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	s := &EtcdStore{kv: kv, prefix: opts.Prefix, maxBytes: opts.MaxBytes, timeout: opts.Timeout}
	resp, err := s.list(false)
	if err != nil {
		return nil, err
	}
	for _, kv := range resp.Kvs {
		s.used += int64(len(kv.Key) - len(s.prefix) + len(kv.Value))
	}
	return s, nil
}

// Close releases the etcd client when the store dialed it.
func (s *EtcdStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *EtcdStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *EtcdStore) list(keysOnly bool) (*clientv3.GetResponse, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	}
	if keysOnly {
		opts = append(opts, clientv3.WithKeysOnly())
	}
	resp, err := s.kv.Get(ctx, s.prefix, opts...)
	if err != nil {
		return nil, etcdError(err, "etcd list")
	}
	return resp, nil
}

func (s *EtcdStore) Get(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.kv.Get(ctx, s.prefix+key)
	if err != nil {
		return "", false, etcdError(err, "etcd get")
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *EtcdStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists, err := s.Get(key)
	if err != nil {
		return err
	}
	need := int64(len(key) + len(value))
	var freed int64
	if exists {
		freed = int64(len(key) + len(prev))
	}
	if s.maxBytes > 0 && s.used-freed+need > s.maxBytes {
		return quotaExceeded(key, need, s.maxBytes)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := s.kv.Put(ctx, s.prefix+key, value); err != nil {
		if isNoSpace(err) {
			return errors.Wrapf(err, CodeQuotaExceeded, "store: etcd out of space writing %q", key)
		}
		return etcdError(err, "etcd put")
	}
	s.used += need - freed
	return nil
}

func (s *EtcdStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.kv.Delete(ctx, s.prefix+key, clientv3.WithPrevKV())
	if err != nil {
		return etcdError(err, "etcd delete")
	}
	for _, kv := range resp.PrevKvs {
		s.used -= int64(len(key) + len(kv.Value))
	}
	return nil
}

func (s *EtcdStore) Keys() ([]string, error) {
	resp, err := s.list(true)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, strings.TrimPrefix(string(kv.Key), s.prefix))
	}
	return out, nil
}

func (s *EtcdStore) Len() (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.kv.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, etcdError(err, "etcd count")
	}
	return int(resp.Count), nil
}

func isNoSpace(err error) bool {
	return stderrors.Is(err, rpctypes.ErrNoSpace) || stderrors.Is(err, rpctypes.ErrGRPCNoSpace)
}

func etcdError(err error, msg string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeTimeout, msg)
	}
	return errors.Wrap(err, errors.CodeDatabase, msg)
}
