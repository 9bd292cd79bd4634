package lnet

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"gopkg.in/yaml.v3"

	"github.com/gordian-engine/lsl/lquic"
)

// Default network settings, shared with other implementations of the stream layer.
const (
	DefaultMulticastGroup = "239.255.172.215"
	DefaultDiscoveryPort  = 16571
	DefaultSessionID      = "default"

	// DefaultMaxResolveResults is the capacity of a one-shot resolve result list.
	DefaultMaxResolveResults = 1024
)

// ConfigEnvVar names the environment variable holding
// the path of the configuration file read by [ConfigFromEnv].
const ConfigEnvVar = "LSLAPICFG"

// Config is the configuration for [NewEngine].
type Config struct {
	// Socket that receives discovery queries.
	// If nil, NewEngine listens on DiscoveryPort,
	// joined to MulticastGroup if one is set.
	DiscoveryConn *net.UDPConn

	// Socket for the QUIC data transport.
	// If nil, NewEngine listens on an ephemeral port.
	DataConn *net.UDPConn

	// If nil, lquic.DefaultConfig is used.
	QUIC *quic.Config

	// Only engines with the same session ID see each other's streams.
	SessionID string

	// Reported in the hostname field of hosted streams.
	// Defaults to os.Hostname.
	Hostname string

	// Queries are sent to MulticastGroup:DiscoveryPort,
	// unless MulticastGroup is empty.
	MulticastGroup string
	DiscoveryPort  int

	// Also send queries to the IPv4 broadcast address.
	Broadcast bool

	// Discovery addresses (host:port) that are queried directly.
	KnownPeers []string

	// Time between query waves of a resolve.
	ResolveWaveInterval time.Duration

	// Upper bound on the results of a one-shot resolve.
	MaxResolveResults int

	// Time between bursts of time probes on each inlet connection,
	// the number of probes per burst,
	// and how long to wait for replies to a burst.
	ProbeInterval time.Duration
	ProbeCount    int
	ProbeTimeout  time.Duration

	// Default smoothing half-time of dejittering, in seconds.
	SmoothingHalftime float64

	// A jump of the measured clock offset larger than this
	// is reported as a clock reset.
	ClockResetThreshold time.Duration

	// Wait between re-resolve attempts of a lost inlet.
	RecoverInterval time.Duration

	// Optional. Engine metrics are registered here when set.
	Registerer prometheus.Registerer

	// Level configured in a file; only consulted by callers that build their own logger.
	LogLevel slog.Level
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	return Config{
		SessionID: DefaultSessionID,

		MulticastGroup: DefaultMulticastGroup,
		DiscoveryPort:  DefaultDiscoveryPort,

		ResolveWaveInterval: 500 * time.Millisecond,
		MaxResolveResults:   DefaultMaxResolveResults,

		ProbeInterval: 2 * time.Second,
		ProbeCount:    8,
		ProbeTimeout:  500 * time.Millisecond,

		SmoothingHalftime: 90,

		ClockResetThreshold: 5 * time.Second,

		RecoverInterval: 500 * time.Millisecond,

		LogLevel: slog.LevelInfo,
	}
}

// validate panics if there are any illegal settings in the configuration.
// It also warns about any suspect settings.
func (c Config) validate(log *slog.Logger) {
	// If there are multiple reasons we could panic,
	// collect them all in one go
	// so we can give a maximally helpful error.
	var panicErrs error

	if c.QUIC != nil && !c.QUIC.EnableDatagrams {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("QUIC datagrams must be enabled for time probes; set Config.QUIC.EnableDatagrams=true"),
		)
	}

	if c.MulticastGroup != "" {
		if a, err := netip.ParseAddr(c.MulticastGroup); err != nil || !a.IsMulticast() {
			panicErrs = errors.Join(
				panicErrs,
				fmt.Errorf("Config.MulticastGroup %q is not a multicast address", c.MulticastGroup),
			)
		}
	}

	if c.DiscoveryConn == nil && (c.DiscoveryPort <= 0 || c.DiscoveryPort > 0xFFFF) {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("Config.DiscoveryPort must be in range [1, 65535] (got %d)", c.DiscoveryPort),
		)
	}

	for _, p := range c.KnownPeers {
		if _, _, err := net.SplitHostPort(p); err != nil {
			panicErrs = errors.Join(
				panicErrs,
				fmt.Errorf("Config.KnownPeers entry %q is not host:port: %w", p, err),
			)
		}
	}

	if c.ResolveWaveInterval <= 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.ResolveWaveInterval must be positive"))
	}
	if c.MaxResolveResults <= 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.MaxResolveResults must be positive"))
	}
	if c.ProbeInterval <= 0 || c.ProbeCount <= 0 || c.ProbeCount > 255 || c.ProbeTimeout <= 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("Config.ProbeInterval and Config.ProbeTimeout must be positive, and Config.ProbeCount in range [1, 255]"),
		)
	}
	if c.RecoverInterval <= 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.RecoverInterval must be positive"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}

	if c.MulticastGroup == "" && !c.Broadcast && len(c.KnownPeers) == 0 {
		log.Warn("No multicast group, broadcast or known peers configured; resolves will only find local streams")
	}
	if c.SmoothingHalftime <= 0 {
		log.Warn("Non-positive smoothing half-time configured; using the default", "halftime", c.SmoothingHalftime)
	}
}

func (c Config) quicConfig() *quic.Config {
	if c.QUIC != nil {
		return c.QUIC
	}
	return lquic.DefaultConfig()
}

// fileConfig is the YAML layout of a configuration file.
type fileConfig struct {
	Ports struct {
		Discovery int `yaml:"discovery"`
	} `yaml:"ports"`

	Multicast struct {
		Group     *string `yaml:"group"`
		Broadcast bool    `yaml:"broadcast"`
	} `yaml:"multicast"`

	Lab struct {
		KnownPeers []string `yaml:"known_peers"`
		SessionID  string   `yaml:"session_id"`
	} `yaml:"lab"`

	Tuning struct {
		ResolveWaveInterval time.Duration `yaml:"resolve_wave_interval"`
		MaxResolveResults   int           `yaml:"max_resolve_results"`
		ProbeInterval       time.Duration `yaml:"probe_interval"`
		ProbeCount          int           `yaml:"probe_count"`
		ProbeTimeout        time.Duration `yaml:"probe_timeout"`
		SmoothingHalftime   float64       `yaml:"smoothing_halftime"`
		ClockResetThreshold time.Duration `yaml:"clock_reset_threshold"`
		RecoverInterval     time.Duration `yaml:"recover_interval"`
	} `yaml:"tuning"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// LoadConfig returns DefaultConfig overridden by the YAML file at path.
//
// An example file:
//
//	ports:
//	  discovery: 16571
//	multicast:
//	  group: 239.255.172.215
//	lab:
//	  session_id: default
//	  known_peers: [10.0.0.2:16571]
//	tuning:
//	  probe_interval: 2s
//	  smoothing_halftime: 90
//	log:
//	  level: debug
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(b)
}

// ParseConfig is [LoadConfig] for file contents already in memory.
func ParseConfig(b []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	c := DefaultConfig()

	if fc.Ports.Discovery != 0 {
		c.DiscoveryPort = fc.Ports.Discovery
	}
	if fc.Multicast.Group != nil {
		// An explicit empty group disables multicast.
		c.MulticastGroup = *fc.Multicast.Group
	}
	c.Broadcast = fc.Multicast.Broadcast
	c.KnownPeers = fc.Lab.KnownPeers
	if fc.Lab.SessionID != "" {
		c.SessionID = fc.Lab.SessionID
	}

	t := fc.Tuning
	setIfPositive(&c.ResolveWaveInterval, t.ResolveWaveInterval)
	setIfPositive(&c.MaxResolveResults, t.MaxResolveResults)
	setIfPositive(&c.ProbeInterval, t.ProbeInterval)
	setIfPositive(&c.ProbeCount, t.ProbeCount)
	setIfPositive(&c.ProbeTimeout, t.ProbeTimeout)
	setIfPositive(&c.SmoothingHalftime, t.SmoothingHalftime)
	setIfPositive(&c.ClockResetThreshold, t.ClockResetThreshold)
	setIfPositive(&c.RecoverInterval, t.RecoverInterval)

	if fc.Log.Level != "" {
		if err := c.LogLevel.UnmarshalText([]byte(strings.ToUpper(fc.Log.Level))); err != nil {
			return Config{}, fmt.Errorf("invalid log level %q: %w", fc.Log.Level, err)
		}
	}

	return c, nil
}

func setIfPositive[T time.Duration | int | float64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// ConfigFromEnv returns the configuration named by the LSLAPICFG
// environment variable, or DefaultConfig if it is unset.
func ConfigFromEnv() (Config, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}
