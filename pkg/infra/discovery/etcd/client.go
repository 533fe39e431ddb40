package etcd

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"

	etcdopts "github.com/kart-io/leaf-server/pkg/options/etcd"
)

// NewClient connects to etcd and checks the cluster answers within
// RequestTimeout.
func NewClient(ctx context.Context, opts *etcdopts.Options) (*clientv3.Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("invalid etcd options: no endpoints")
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()
	if _, err := cli.Get(pingCtx, opts.KeyPrefix, clientv3.WithCountOnly()); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping etcd cluster: %w", err)
	}
	return cli, nil
}
