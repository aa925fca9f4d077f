/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the node configuration from ehrd.yaml and the
// EHRD_ environment.
package config

import (
	"path/filepath"
	"time"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/ehrchain/ehrd/common/viperutil"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var logger = flogging.MustGetLogger("config")

// ConfigName is the stem of the config file searched in the config paths.
const ConfigName = "ehrd"

type Config struct {
	Peer       Peer       `yaml:"peer"`
	Control    Control    `yaml:"control"`
	Operations Operations `yaml:"operations"`
	Metrics    Metrics    `yaml:"metrics"`
	Logging    Logging    `yaml:"logging"`
}

type Peer struct {
	// Name is the provider name this node records for itself.
	Name string `yaml:"name"`
	// Address is the externally reachable ip of this node. Fan-out skips
	// providers at this host.
	Address       string `yaml:"address"`
	ListenAddress string `yaml:"listenAddress"`
	// Port is appended to provider ips that carry none.
	Port           string      `yaml:"port"`
	FileSystemPath string      `yaml:"fileSystemPath"`
	TLS            TLS         `yaml:"tls"`
	Replication    Replication `yaml:"replication"`
}

type File struct {
	File string `yaml:"file"`
}

type Files struct {
	Files []string `yaml:"files"`
}

type TLS struct {
	Enabled            bool  `yaml:"enabled"`
	ClientAuthRequired bool  `yaml:"clientAuthRequired"`
	Cert               File  `yaml:"cert"`
	Key                File  `yaml:"key"`
	RootCert           File  `yaml:"rootcert"`
	ClientRootCAs      Files `yaml:"clientRootCAs"`
}

type Replication struct {
	SendTimeout        time.Duration `yaml:"sendTimeout"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	MaxConcurrentSends int           `yaml:"maxConcurrentSends"`
	QueueSize          int           `yaml:"queueSize"`
}

type Control struct {
	SocketPath string `yaml:"socketPath"`
	QueueSize  int    `yaml:"queueSize"`
}

type Operations struct {
	ListenAddress      string        `yaml:"listenAddress"`
	HealthCheckTimeout time.Duration `yaml:"healthCheckTimeout"`
}

type Metrics struct {
	Provider string `yaml:"provider"`
}

type Logging struct {
	Spec   string `yaml:"spec"`
	Format string `yaml:"format"`
}

var defaults = map[string]interface{}{
	"peer.name":                           "ehrd",
	"peer.address":                        "127.0.0.1",
	"peer.listenAddress":                  "0.0.0.0:8081",
	"peer.port":                           "8081",
	"peer.fileSystemPath":                 "/var/ehrd/production",
	"peer.tls.enabled":                    false,
	"peer.tls.clientAuthRequired":         false,
	"peer.tls.cert.file":                  "",
	"peer.tls.key.file":                   "",
	"peer.tls.rootcert.file":              "",
	"peer.tls.clientRootCAs.files":        []string{},
	"peer.replication.sendTimeout":        10 * time.Second,
	"peer.replication.dialTimeout":        3 * time.Second,
	"peer.replication.maxConcurrentSends": 4,
	"peer.replication.queueSize":          100,
	"control.socketPath":                  "/tmp/ehr.sock",
	"control.queueSize":                   10,
	"operations.listenAddress":            "127.0.0.1:9443",
	"operations.healthCheckTimeout":       30 * time.Second,
	"metrics.provider":                    "disabled",
	"logging.spec":                        "info",
	"logging.format":                      "",
}

// SetDefaults registers the default of every key so that each one can be
// overridden from the environment.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads ehrd.yaml from the config paths. A missing file is not an
// error; defaults and environment overrides apply.
func Load() (*Config, error) {
	v := viper.New()
	viperutil.InitViper(v, ConfigName)
	return FromViper(v)
}

// FromViper builds a Config from v, reading its config file when one is
// found.
func FromViper(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "error reading config file")
		}
		logger.Infof("No %s config file found, using defaults", ConfigName)
	}

	conf := &Config{}
	if err := viperutil.EnhancedExactUnmarshal(v, conf); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}
	if cf := v.ConfigFileUsed(); cf != "" {
		base, err := filepath.Abs(filepath.Dir(cf))
		if err != nil {
			return nil, errors.Wrapf(err, "failed resolving config directory of %s", cf)
		}
		logger.Infof("Loaded configuration from %s", cf)
		conf.translatePaths(base)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the values the node cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Peer.Name == "":
		return errors.New("peer.name must be set")
	case c.Peer.Address == "":
		return errors.New("peer.address must be set")
	case c.Peer.Port == "":
		return errors.New("peer.port must be set")
	case c.Peer.FileSystemPath == "":
		return errors.New("peer.fileSystemPath must be set")
	case c.Peer.Replication.MaxConcurrentSends <= 0:
		return errors.Errorf("peer.replication.maxConcurrentSends must be positive, got %d", c.Peer.Replication.MaxConcurrentSends)
	case c.Peer.Replication.QueueSize <= 0:
		return errors.Errorf("peer.replication.queueSize must be positive, got %d", c.Peer.Replication.QueueSize)
	case c.Control.QueueSize <= 0:
		return errors.Errorf("control.queueSize must be positive, got %d", c.Control.QueueSize)
	case c.Peer.TLS.Enabled && (c.Peer.TLS.Cert.File == "" || c.Peer.TLS.Key.File == ""):
		return errors.New("peer.tls.cert.file and peer.tls.key.file are required when TLS is enabled")
	}
	return nil
}

// translatePaths resolves relative file references against the directory
// of the config file.
func (c *Config) translatePaths(base string) {
	c.Peer.FileSystemPath = TranslatePath(base, c.Peer.FileSystemPath)
	c.Peer.TLS.Cert.File = TranslatePath(base, c.Peer.TLS.Cert.File)
	c.Peer.TLS.Key.File = TranslatePath(base, c.Peer.TLS.Key.File)
	c.Peer.TLS.RootCert.File = TranslatePath(base, c.Peer.TLS.RootCert.File)
	for i, f := range c.Peer.TLS.ClientRootCAs.Files {
		c.Peer.TLS.ClientRootCAs.Files[i] = TranslatePath(base, f)
	}
}

// TranslatePath makes p absolute relative to base. Empty and absolute paths
// are returned unchanged.
func TranslatePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
