package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

func parse(t *testing.T, o *ServerOptions, args ...string) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fss := o.Flags()
	for _, name := range fss.Order {
		fs.AddFlagSet(fss.FlagSets[name])
	}
	require.NoError(t, fs.Parse(args))
}

func TestServerOptionsDefaultsAreValid(t *testing.T) {
	o := NewServerOptions()
	require.NoError(t, o.Complete())
	assert.NoError(t, o.Validate())
	assert.Equal(t, []string{"lifetime", "grpc", "http", "etcd", "log"}, o.Flags().Order)
}

func TestServerOptionsAggregatesErrors(t *testing.T) {
	o := NewServerOptions()
	parse(t, o, "--request-limit=-5", "--max-workers=0", "--grpc.addr=")
	require.NoError(t, o.Complete())

	err := o.Validate()
	require.Error(t, err)
	var agg utilerrors.Aggregate
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors(), 3)
}

func TestServerOptionsConfig(t *testing.T) {
	o := NewServerOptions()
	parse(t, o, "--server-name=echo", "--request-limit=500", "--grpc.addr=:6000", "--http.enabled=false")
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.GRPCOptions.Addr)
	assert.False(t, cfg.HTTPOptions.Enabled)
	assert.Equal(t, 500, cfg.LifetimeOptions.Config().RequestLimit)
	assert.Equal(t, "echo", cfg.LifetimeOptions.Config().ServerNameForLogs)
}
