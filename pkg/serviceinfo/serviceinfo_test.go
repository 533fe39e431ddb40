package serviceinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "service_version"), []byte("1.4.2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "last_commit"), []byte(" abc123 \n"), 0o600))

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New("echo", start, WithInfoDir(dir), WithPersistence("/data", "s3"))
	p.now = func() time.Time { return start.Add(90*time.Minute + 400*time.Millisecond) }

	info := p.Info()
	assert.Equal(t, Info{
		Name:             "echo",
		Version:          "1.4.2",
		LatestCommit:     "abc123",
		StartTime:        "2026-01-02T03:04:05Z",
		Uptime:           "1h30m0s",
		Status:           StatusOK,
		PersistPath:      "/data",
		PersistMechanism: "s3",
	}, info)
}

func TestInfoWithoutFilesOrStart(t *testing.T) {
	p := New("echo", time.Time{}, WithInfoDir(t.TempDir()), WithStatus("DEGRADED"))

	info := p.Info()
	assert.Empty(t, info.LatestCommit)
	assert.Empty(t, info.StartTime)
	assert.Empty(t, info.Uptime)
	assert.Equal(t, "DEGRADED", info.Status)
	assert.Equal(t, time.Duration(0), p.Uptime())
}
