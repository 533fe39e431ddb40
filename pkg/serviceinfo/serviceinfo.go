// Package serviceinfo reports what a running server is: name, version,
// commit, start time, uptime and status.
package serviceinfo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kart-io/version"
)

const (
	// StatusOK is the default status.
	StatusOK = "OK"

	versionFile = "service_version"
	commitFile  = "last_commit"
)

// Info is the service information document.
type Info struct {
	Name             string `json:"name"`
	Version          string `json:"version,omitempty"`
	LatestCommit     string `json:"latest_commit,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	Uptime           string `json:"uptime,omitempty"`
	Status           string `json:"status"`
	PersistPath      string `json:"persist_path,omitempty"`
	PersistMechanism string `json:"persist_mechanism,omitempty"`
}

// Option configures a Provider.
type Option func(*Provider)

// WithStatus sets the reported status.
func WithStatus(status string) Option {
	return func(p *Provider) { p.status = status }
}

// WithPersistence records where and how the service persists its state.
func WithPersistence(path, mechanism string) Option {
	return func(p *Provider) {
		p.persistPath = path
		p.persistMechanism = mechanism
	}
}

// WithInfoDir reads the service_version and last_commit files from dir.
func WithInfoDir(dir string) Option {
	return func(p *Provider) { p.infoDir = dir }
}

// Provider builds Info documents.
type Provider struct {
	name             string
	startTime        time.Time
	status           string
	persistPath      string
	persistMechanism string
	infoDir          string
	now              func() time.Time
}

// New returns a Provider for a service started at startTime. A zero start
// time leaves start time and uptime out.
func New(name string, startTime time.Time, opts ...Option) *Provider {
	p := &Provider{
		name:      name,
		startTime: startTime,
		status:    StatusOK,
		infoDir:   ".",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Info returns the current document.
func (p *Provider) Info() Info {
	info := Info{
		Name:             p.name,
		Version:          p.Version(),
		LatestCommit:     readTrimmed(filepath.Join(p.infoDir, commitFile)),
		Status:           p.status,
		PersistPath:      p.persistPath,
		PersistMechanism: p.persistMechanism,
	}
	if !p.startTime.IsZero() {
		info.StartTime = p.startTime.Format(time.RFC3339)
		info.Uptime = p.Uptime().String()
	}
	return info
}

// Version returns the contents of the service_version file, falling back to
// the version compiled into the binary.
func (p *Provider) Version() string {
	if v := readTrimmed(filepath.Join(p.infoDir, versionFile)); v != "" {
		return v
	}
	return version.Get().GitVersion
}

// Uptime returns the time since start, rounded to the second.
func (p *Provider) Uptime() time.Duration {
	if p.startTime.IsZero() {
		return 0
	}
	return p.now().Sub(p.startTime).Round(time.Second)
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
