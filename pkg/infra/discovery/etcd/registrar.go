// Package etcd announces a leaf server instance in etcd under a lease, so the
// key disappears when the instance deregisters or dies.
package etcd

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"
	clientv3 "go.etcd.io/etcd/client/v3"

	etcdopts "github.com/kart-io/leaf-server/pkg/options/etcd"
)

// Client is the part of *clientv3.Client the registrar uses.
type Client interface {
	clientv3.Lease
	clientv3.KV
}

// Instance is the value stored under the instance key.
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	Version   string    `json:"version,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// Registrar keeps <prefix>/<name>/<id> alive while the instance serves.
type Registrar struct {
	client   Client
	prefix   string
	ttl      int64
	instance Instance

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

// NewRegistrar creates a registrar for the instance listening on addr.
func NewRegistrar(client Client, opts *etcdopts.Options, name, addr, version string) *Registrar {
	if opts == nil {
		opts = etcdopts.NewOptions()
	}
	return &Registrar{
		client: client,
		prefix: opts.KeyPrefix,
		ttl:    opts.LeaseTTL,
		instance: Instance{
			ID:        ulid.Make().String(),
			Name:      name,
			Addr:      addr,
			Version:   version,
			StartTime: time.Now().UTC(),
		},
	}
}

// Key returns the etcd key of this instance.
func (r *Registrar) Key() string {
	return path.Join(r.prefix, r.instance.Name, r.instance.ID)
}

// Instance returns the registered value.
func (r *Registrar) Instance() Instance {
	return r.instance
}

// Register grants a lease, writes the instance key and keeps the lease alive
// until Deregister.
func (r *Registrar) Register(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaseID != 0 {
		return nil
	}

	value, err := sonic.Marshal(r.instance)
	if err != nil {
		return fmt.Errorf("encode instance: %w", err)
	}

	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	if _, err := r.client.Put(ctx, r.Key(), string(value), clientv3.WithLease(lease.ID)); err != nil {
		_, _ = r.client.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("failed to register instance key: %w", err)
	}

	keepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		_, _ = r.client.Revoke(context.WithoutCancel(ctx), lease.ID)
		return fmt.Errorf("failed to keep alive lease: %w", err)
	}
	go func() {
		for range ch {
		}
		if keepCtx.Err() == nil {
			logger.Warnw("ETCD KeepAlive channel closed", "key", r.Key())
		}
	}()

	r.leaseID = lease.ID
	r.cancel = cancel

	logger.Infow("Service registered to ETCD",
		"key", r.Key(),
		"addr", r.instance.Addr,
		"ttl", r.ttl,
	)
	return nil
}

// Deregister stops the keepalive and revokes the lease, which deletes the
// instance key. It is a no-op when not registered.
func (r *Registrar) Deregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaseID == 0 {
		return nil
	}

	r.cancel()
	leaseID := r.leaseID
	r.leaseID = 0
	r.cancel = nil

	if _, err := r.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	logger.Infow("Service deregistered from ETCD", "key", r.Key())
	return nil
}
