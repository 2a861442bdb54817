package palantir

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// PeerConfig is one entry of a Config's [[Peers]] table: a peer name and
// address. Nothing in this package dials it.
type PeerConfig struct {
	Name    string `toml:"Name"`
	Address string `toml:"Address"`
}

// Config is the on-disk form of a node, mirroring the katzenpost convention
// of a TOML-described node (cf. `mailproxy.toml` generation in the reference
// tree) even though Peer itself takes its listen address, name, and
// validator as constructor arguments. A caller loads a Config and
// translates it into a `New` call (see Options) plus its own `AddPeer`
// calls for Peers.
type Config struct {
	// Listen is the local UDP address to accept QUIC connections on, e.g.
	// "0.0.0.0:4433".
	Listen string `toml:"Listen"`

	// Name is this node's identity, exchanged during the handshake per
	// spec.md §4.1.
	Name string `toml:"Name"`

	// RequestTimeoutSeconds bounds how long a Channel.Request waits for a
	// Response before its registry entry expires. Zero uses
	// DefaultRequestTimeout.
	RequestTimeoutSeconds int `toml:"RequestTimeoutSeconds"`

	// InboxCapacity bounds how many undelivered inbound requests a single
	// actor registration buffers. Zero uses DefaultInboxCapacity.
	InboxCapacity int `toml:"InboxCapacity"`

	// TLSCertFile and TLSKeyFile are an optional PEM certificate/key pair
	// for the listening side's identity. Both empty generates a
	// self-signed identity valid for localhost/127.0.0.1.
	TLSCertFile string `toml:"TLSCertFile"`
	TLSKeyFile  string `toml:"TLSKeyFile"`

	// Peers lists the peers this node is configured to connect to.
	// LoadConfig and Options do not dial them.
	Peers []PeerConfig `toml:"Peers"`
}

// RequestTimeout returns the configured request timeout, or
// DefaultRequestTimeout if RequestTimeoutSeconds is unset.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadConfig parses a TOML document at path into a Config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("loading config %q: %w", path, err)
	}
	if cfg.Listen == "" {
		return nil, fmt.Errorf("loading config %q: Listen is required", path)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("loading config %q: Name is required", path)
	}
	return cfg, nil
}

// Options translates the parsed fields into Peer construction Options, so a
// cmd/ binary can go straight from a loaded Config to `palantir.New`:
//
//	cfg, err := palantir.LoadConfig(path)
//	opts, err := cfg.Options()
//	p, err := palantir.New(cfg.Listen, cfg.Name, validator, opts...)
//
// If TLSCertFile/TLSKeyFile are both empty, no WithTLSConfig option is
// returned and New generates a self-signed identity per certs.go.
func (c *Config) Options() ([]Option, error) {
	opts := []Option{
		WithRequestTimeout(c.RequestTimeout()),
	}
	if c.InboxCapacity > 0 {
		opts = append(opts, WithInboxCapacity(c.InboxCapacity))
	}
	if c.TLSCertFile != "" || c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS identity: %w", err)
		}
		server := &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"palantir"},
			MinVersion:   tls.VersionTLS13,
		}
		opts = append(opts, WithTLSConfig(server, InsecureClientTLSConfig()))
	}
	return opts, nil
}
