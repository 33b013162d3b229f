// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the plain struct of fields the core is constructed from. It is
// an external collaborator: nothing in internal/storage, internal/broker,
// internal/processor, etc. loads it itself, they only consume the
// already-validated values.
type Config struct {
	MqttHost     string `json:"mqtt_host"`
	MqttPort     int    `json:"mqtt_port"`
	MqttUseTLS   bool   `json:"mqtt_use_tls"`
	ClientID     string `json:"client_id"`
	NodeID       string `json:"node_id"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	TopicPrefix  string `json:"topic_prefix"`

	KeepAliveSeconds         int `json:"keep_alive_seconds"`
	SessionExpirySeconds     int `json:"session_expiry_seconds"`
	SkewMaxFutureMs          int `json:"skew_max_future_ms"`
	TombstoneRetentionHours  int `json:"tombstone_retention_hours"`
	ConnectionTimeoutSeconds int `json:"connection_timeout_seconds"`

	PersistenceEnabled bool   `json:"persistence_enabled"`
	StoragePath        string `json:"storage_path"`
	S3AccessKey        string `json:"s3_access_key"`
	S3SecretKey        string `json:"s3_secret_key"`

	AdminAddr string `json:"admin_addr"`

	IdempotencyCacheSize       int `json:"idempotency_cache_size"`
	IdempotencyCacheTTLSeconds int `json:"idempotency_cache_ttl_seconds"`
	ShardCount                 int `json:"shard_count"`
	GCIntervalSeconds          int `json:"gc_interval_seconds"`
}

// Defaults is a struct literal of baseline config values, overwritten
// field-by-field by whatever the user supplies. MqttPort stays 0 here so
// applyDefaultsAndValidate can pick 1883, or 8883 when TLS is in effect.
var Defaults = Config{
	MqttPort:                   0,
	MqttUseTLS:                 false,
	TopicPrefix:                "",
	KeepAliveSeconds:           60,
	SessionExpirySeconds:       86400,
	SkewMaxFutureMs:            300000,
	TombstoneRetentionHours:    24,
	ConnectionTimeoutSeconds:   20,
	PersistenceEnabled:         false,
	AdminAddr:                  "127.0.0.1:9200",
	IdempotencyCacheSize:       1024,
	IdempotencyCacheTTLSeconds: 600,
	ShardCount:                 64,
	GCIntervalSeconds:          3600,
}

// Load reads raw JSON config from path, schema-validates it, and merges it
// over Defaults. TLS is forced on whenever credentials are present,
// regardless of mqtt_use_tls.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return nil, err
	}

	cfg := Defaults
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.MqttHost == "" || c.ClientID == "" || c.NodeID == "" {
		return fmt.Errorf("config: mqtt_host, client_id and node_id are required")
	}

	if c.Username != "" || c.Password != "" {
		c.MqttUseTLS = true
	}

	if c.MqttPort == 0 {
		if c.MqttUseTLS {
			c.MqttPort = 8883
		} else {
			c.MqttPort = 1883
		}
	}

	if c.PersistenceEnabled && c.StoragePath == "" {
		return fmt.Errorf("config: storage_path is required when persistence_enabled is true")
	}

	return nil
}

// BrokerURL returns the scheme://host:port address paho.mqtt.golang expects.
func (c *Config) BrokerURL() string {
	scheme := "tcp"
	if c.MqttUseTLS {
		scheme = "ssl"
	}
	host := c.MqttHost
	if strings.Contains(host, "://") {
		return host
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, c.MqttPort)
}

func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.SessionExpirySeconds) * time.Second
}

func (c *Config) SkewMaxFuture() time.Duration {
	return time.Duration(c.SkewMaxFutureMs) * time.Millisecond
}

func (c *Config) TombstoneRetention() time.Duration {
	return time.Duration(c.TombstoneRetentionHours) * time.Hour
}

func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

func (c *Config) IdempotencyCacheTTL() time.Duration {
	return time.Duration(c.IdempotencyCacheTTLSeconds) * time.Second
}

func (c *Config) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}
