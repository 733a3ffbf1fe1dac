// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config reads the gxod configuration file.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/gxo/server"
)

var logger = loggo.GetLogger("gxo.config")

const (
	// DefaultMaxIdle is the default network idle timeout in seconds.
	DefaultMaxIdle = 300

	// DefaultLoggingConfig is used when the file sets no logging-config.
	DefaultLoggingConfig = "<root>=INFO"
)

// Attribute names.
const (
	PortKey          = "port"
	HostKey          = "host"
	MaxIdleKey       = "maxidle"
	LocalSocketKey   = "local-socket"
	AdminAddressKey  = "admin-address"
	HealthAddressKey = "health-address"
	LoggingConfigKey = "logging-config"
)

var fields = schema.Fields{
	PortKey:          schema.ForceInt(),
	HostKey:          schema.String(),
	MaxIdleKey:       schema.ForceInt(),
	LocalSocketKey:   schema.String(),
	AdminAddressKey:  schema.String(),
	HealthAddressKey: schema.String(),
	LoggingConfigKey: schema.String(),
}

var defaults = schema.Defaults{
	PortKey:          server.DefaultPort,
	HostKey:          "",
	MaxIdleKey:       DefaultMaxIdle,
	LocalSocketKey:   "",
	AdminAddressKey:  "",
	HealthAddressKey: "",
	LoggingConfigKey: DefaultLoggingConfig,
}

var checker = schema.FieldMap(fields, defaults)

// Config holds coerced configuration attributes.
type Config struct {
	attrs map[string]interface{}
}

// New coerces attrs and fills in defaults. Unknown attributes are
// reported and dropped.
func New(attrs map[string]interface{}) (*Config, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	for name := range attrs {
		if _, ok := fields[name]; !ok {
			logger.Warningf("unknown config field %q", name)
		}
	}
	coerced, err := checker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "config")
	}
	cfg := &Config{attrs: coerced.(map[string]interface{})}
	if err := cfg.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Default returns the configuration of an empty file.
func Default() *Config {
	cfg, err := New(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse reads a YAML document.
func Parse(data []byte) (*Config, error) {
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.NewNotValid(err, "config yaml")
	}
	return New(attrs)
}

// Read parses the file at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("config file %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := Parse(data)
	return cfg, errors.Annotatef(err, "reading %s", path)
}

func (c *Config) validate() error {
	if port := c.Port(); port < 0 || port > 65535 {
		return errors.NotValidf("port %d", port)
	}
	if idle := c.attrs[MaxIdleKey].(int); idle < 0 {
		return errors.NotValidf("maxidle %d", idle)
	}
	if _, err := loggo.ParseConfigString(c.LoggingConfig()); err != nil {
		return errors.NewNotValid(err, "logging-config")
	}
	return nil
}

// Apply returns a copy of c with attrs overriding its values.
func (c *Config) Apply(attrs map[string]interface{}) (*Config, error) {
	merged := make(map[string]interface{}, len(c.attrs)+len(attrs))
	for k, v := range c.attrs {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	return New(merged)
}

// AllAttrs returns a copy of the attributes.
func (c *Config) AllAttrs() map[string]interface{} {
	out := make(map[string]interface{}, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// Port is the network port of the server.
func (c *Config) Port() int {
	return c.attrs[PortKey].(int)
}

// Host is the address the server binds to; empty means every interface.
func (c *Config) Host() string {
	return c.attrs[HostKey].(string)
}

// MaxIdle is the network idle timeout. Zero disables it.
func (c *Config) MaxIdle() time.Duration {
	return time.Duration(c.attrs[MaxIdleKey].(int)) * time.Second
}

// LocalSocket is the local channel path, or "".
func (c *Config) LocalSocket() string {
	return c.attrs[LocalSocketKey].(string)
}

// AdminAddress is where the admin HTTP endpoint listens, or "".
func (c *Config) AdminAddress() string {
	return c.attrs[AdminAddressKey].(string)
}

// HealthAddress is where the gRPC health service listens, or "".
func (c *Config) HealthAddress() string {
	return c.attrs[HealthAddressKey].(string)
}

// LoggingConfig is a loggo configuration string.
func (c *Config) LoggingConfig() string {
	return c.attrs[LoggingConfigKey].(string)
}

// Server returns the part of the configuration the server listens with.
func (c *Config) Server() server.Config {
	return server.Config{
		Port:        c.Port(),
		Host:        c.Host(),
		MaxIdle:     c.MaxIdle(),
		LocalSocket: c.LocalSocket(),
	}
}
