package svnbridge

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Credentials is the triple the transport layer surfaces for upstream
// calls. An empty Username means unauthenticated.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain"`
}

// Config carries the host-level settings for the bridge process. A Config
// is loaded once in main and handed to the components that need it; the
// components never read configuration on their own.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8081".
	ListenAddr string `yaml:"listen_addr"`

	// LogPath is where the request log is written. Empty means stderr.
	LogPath string `yaml:"log_path"`

	// UpstreamServers are the source control server URLs the bridge
	// fronts. The first entry is the default.
	UpstreamServers []string `yaml:"upstream_servers"`

	// AnonymousCredentials holds the configured credentials for reads
	// without client authorization. No component in this module reads
	// the field; the handlers perform no authentication.
	AnonymousCredentials Credentials `yaml:"anonymous_credentials"`

	// CaseSensitivePaths selects the path comparison policy.
	CaseSensitivePaths bool `yaml:"case_sensitive_paths"`

	// MaxInFlightRequests bounds concurrent upstream file downloads per
	// update request.
	MaxInFlightRequests int `yaml:"max_in_flight_requests"`

	// MaxBufferedBytes bounds prefetched-but-unsent file content per
	// update request.
	MaxBufferedBytes int64 `yaml:"max_buffered_bytes"`

	// ProductionTimeout and ConsumptionTimeout bound the two sides of the
	// prefetch pipeline.
	ProductionTimeout  time.Duration `yaml:"production_timeout"`
	ConsumptionTimeout time.Duration `yaml:"consumption_timeout"`

	Log      *log.Logger `yaml:"-"`
	DebugLog *log.Logger `yaml:"-"`
}

const (
	defaultMaxInFlightRequests = 3
	defaultProductionTimeout   = 4 * time.Hour
	defaultConsumptionTimeout  = 4 * time.Hour
)

// defaultMaxBufferedBytes follows the word size: large buffers fragment the
// heap badly on 32-bit hosts.
func defaultMaxBufferedBytes() int64 {
	if is64bit {
		return 100 << 20
	}
	return 10 << 20
}

const is64bit = ^uint(0)>>32 != 0

// ReadConfig loads a YAML config file and fills in defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log %s", c.LogPath)
		}
		c.Log = log.New(f, "svnbridge: ", log.LstdFlags)
	}
	c.SetDefaults()
	return &c, nil
}

// SetDefaults fills zero-valued fields with their defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8081"
	}
	if c.MaxInFlightRequests <= 0 {
		c.MaxInFlightRequests = defaultMaxInFlightRequests
	}
	if c.MaxBufferedBytes <= 0 {
		c.MaxBufferedBytes = defaultMaxBufferedBytes()
	}
	if c.ProductionTimeout <= 0 {
		c.ProductionTimeout = defaultProductionTimeout
	}
	if c.ConsumptionTimeout <= 0 {
		c.ConsumptionTimeout = defaultConsumptionTimeout
	}
	if c.Log == nil {
		c.Log = log.New(os.Stderr, "svnbridge: ", log.LstdFlags)
	}
	if c.DebugLog == nil {
		c.DebugLog = log.New(io.Discard, "", 0)
	}
}

// CasePolicy returns the path comparison policy the config selects.
func (c *Config) CasePolicy() CasePolicy {
	return CasePolicy{Sensitive: c.CaseSensitivePaths}
}
