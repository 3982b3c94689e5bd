// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the rituald server configuration.
//
// # Description
//
// Values resolve in order: built-in defaults, then an optional yaml
// config file, then RITUAL_* environment variables. Nested keys map to
// env vars with underscores, e.g. server.port becomes
// RITUAL_SERVER_PORT.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full rituald configuration tree.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Ritual  RitualConfig  `mapstructure:"ritual"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// StorageConfig covers the badger state store.
type StorageConfig struct {
	DataDir  string        `mapstructure:"data_dir"`
	InMemory bool          `mapstructure:"in_memory"`
	StateTTL time.Duration `mapstructure:"state_ttl" validate:"min=0"`
}

// RitualConfig tunes the curse system.
type RitualConfig struct {
	QueueMaxLen  int           `mapstructure:"queue_max_len" validate:"min=1"`
	QueueTTL     time.Duration `mapstructure:"queue_ttl" validate:"min=0"`
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl" validate:"min=0"`
	PopTimeout   time.Duration `mapstructure:"pop_timeout" validate:"min=0"`
}

// LogConfig covers structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Dir   string `mapstructure:"dir"`
	JSON  bool   `mapstructure:"json"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8900)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.data_dir", "./data/ritual")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.state_ttl", 24*time.Hour)

	v.SetDefault("ritual.queue_max_len", 100)
	v.SetDefault("ritual.queue_ttl", time.Hour)
	v.SetDefault("ritual.heartbeat_ttl", 60*time.Second)
	v.SetDefault("ritual.pop_timeout", 25*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.json", false)
}

// Load resolves the configuration. path may be empty, in which case
// only defaults and environment variables apply. A missing file at a
// given path is an error; a malformed file always is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RITUAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read the config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
