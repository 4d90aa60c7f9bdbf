// Package config loads the operator CLI's cluster configuration from a
// TOML file, mirroring the shape of rcluster.Options.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk shape of a cluster configuration file, parsed
// with github.com/BurntSushi/toml the same way gallir-smart-relayer
// loads its relayer configuration.
type Config struct {
	ClusterNodes []string `toml:"cluster_nodes"`

	MaxRedirections          int     `toml:"max_redirections"`
	MaxConnectionErrors      int     `toml:"max_connection_errors"`
	ConnectRetryInterval     Duration `toml:"connect_retry_interval"`
	ConnectRetryRandomFactor float64 `toml:"connect_retry_random_factor"`
	ConnectionAdapter        string  `toml:"connection_adapter"`
}

// Duration wraps time.Duration so it can be unmarshaled from a TOML
// string like "100ms", since BurntSushi/toml has no native duration
// type.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which toml.Decode
// uses for any non-primitive destination type.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
