package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/TheusHen/roam/roam/crypto"
)

// Options are the runtime settings of a node, separate from the network
// record they run.
type Options struct {
	// Listen is the UDP address the QUIC transport binds.
	Listen string `mapstructure:"listen"`
	// Bootstrap lists host:port addresses dialed in addition to rendezvous.
	Bootstrap []string `mapstructure:"bootstrap"`
	// Ciphers overrides the hardware-derived cipher ranking.
	Ciphers []string `mapstructure:"ciphers"`

	Log        LogOptions        `mapstructure:"log"`
	Handshake  HandshakeOptions  `mapstructure:"handshake"`
	Keepalive  KeepaliveOptions  `mapstructure:"keepalive"`
	Mesh       MeshOptions       `mapstructure:"mesh"`
	Rendezvous RendezvousOptions `mapstructure:"rendezvous"`
}

type LogOptions struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// File enables a rotated log file next to stderr output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HandshakeOptions struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ReplayWindow time.Duration `mapstructure:"replay_window"`
}

type KeepaliveOptions struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type MeshOptions struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	RetryMin       time.Duration `mapstructure:"retry_min"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	AcceptRate     float64       `mapstructure:"accept_rate"`
}

type RendezvousOptions struct {
	AnnounceInterval  time.Duration `mapstructure:"announce_interval"`
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`
}

// DefaultOptions returns the settings used when nothing overrides them.
func DefaultOptions() *Options {
	return &Options{
		Listen: "0.0.0.0:4123",
		Log: LogOptions{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Handshake: HandshakeOptions{Timeout: 10 * time.Second, ReplayWindow: 2 * time.Minute},
		Keepalive: KeepaliveOptions{Interval: 10 * time.Second, Timeout: 30 * time.Second},
		Mesh: MeshOptions{
			MaxAttempts:    8,
			GossipInterval: 30 * time.Second,
			RetryMin:       time.Second,
			RetryMax:       5 * time.Minute,
			AcceptRate:     20,
		},
		Rendezvous: RendezvousOptions{AnnounceInterval: time.Minute, DiscoveryInterval: 30 * time.Second},
	}
}

// LoadOptions reads options from path when non-empty, otherwise from
// roam.yaml in the working directory or ~/.roam. Environment variables
// override file values with the prefix ROAM, e.g. ROAM_LOG_LEVEL=debug.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ROAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("listen", opts.Listen)
	v.SetDefault("bootstrap", opts.Bootstrap)
	v.SetDefault("ciphers", opts.Ciphers)
	v.SetDefault("log.level", opts.Log.Level)
	v.SetDefault("log.format", opts.Log.Format)
	v.SetDefault("log.file", opts.Log.File)
	v.SetDefault("log.max_size_mb", opts.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", opts.Log.MaxBackups)
	v.SetDefault("log.max_age_days", opts.Log.MaxAgeDays)
	v.SetDefault("log.compress", opts.Log.Compress)
	v.SetDefault("handshake.timeout", opts.Handshake.Timeout)
	v.SetDefault("handshake.replay_window", opts.Handshake.ReplayWindow)
	v.SetDefault("keepalive.interval", opts.Keepalive.Interval)
	v.SetDefault("keepalive.timeout", opts.Keepalive.Timeout)
	v.SetDefault("mesh.max_attempts", opts.Mesh.MaxAttempts)
	v.SetDefault("mesh.gossip_interval", opts.Mesh.GossipInterval)
	v.SetDefault("mesh.retry_min", opts.Mesh.RetryMin)
	v.SetDefault("mesh.retry_max", opts.Mesh.RetryMax)
	v.SetDefault("mesh.accept_rate", opts.Mesh.AcceptRate)
	v.SetDefault("rendezvous.announce_interval", opts.Rendezvous.AnnounceInterval)
	v.SetDefault("rendezvous.discovery_interval", opts.Rendezvous.DiscoveryInterval)

	if path == "" {
		path = os.Getenv("ROAM_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("roam")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".roam"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read options: %w", err)
		}
	}
	if err := v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("config: decode options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate normalizes option values and rejects the ones that cannot work.
func (o *Options) Validate() error {
	o.Log.Level = strings.ToLower(strings.TrimSpace(o.Log.Level))
	switch o.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log.level %q", o.Log.Level)
	}
	o.Log.Format = strings.ToLower(strings.TrimSpace(o.Log.Format))
	switch o.Log.Format {
	case "", "text":
		o.Log.Format = "text"
	case "json":
	default:
		return fmt.Errorf("config: invalid log.format %q", o.Log.Format)
	}
	if _, err := o.CipherPreference(); err != nil {
		return err
	}
	if o.Keepalive.Timeout > 0 && o.Keepalive.Timeout <= o.Keepalive.Interval {
		return fmt.Errorf("config: keepalive.timeout %s must exceed keepalive.interval %s",
			o.Keepalive.Timeout, o.Keepalive.Interval)
	}
	return nil
}

// CipherPreference parses Ciphers. An empty list returns nil, meaning the
// hardware-derived default.
func (o *Options) CipherPreference() ([]crypto.CipherID, error) {
	if len(o.Ciphers) == 0 {
		return nil, nil
	}
	out := make([]crypto.CipherID, 0, len(o.Ciphers))
	for _, name := range o.Ciphers {
		id, err := crypto.ParseCipherID(name)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}
