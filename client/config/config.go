// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the CoverDrop client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
)

const (
	defaultLogLevel = "NOTICE"

	defaultArgon2Time      = 3
	defaultArgon2MemoryKiB = 64 * 1024
	defaultArgon2Threads   = 4
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Keys is the trust configuration.
type Keys struct {
	// TrustedOrganizationKeys are the hex encoded organization keys that
	// anchor every published key hierarchy.
	TrustedOrganizationKeys []string

	trusted []*keys.SigningPublicKey
}

func (k *Keys) validate() error {
	if len(k.TrustedOrganizationKeys) == 0 {
		return errors.New("config: Keys: no TrustedOrganizationKeys")
	}
	k.trusted = make([]*keys.SigningPublicKey, 0, len(k.TrustedOrganizationKeys))
	for _, s := range k.TrustedOrganizationKeys {
		pk, err := keys.SigningPublicKeyFromHex(s)
		if err != nil {
			return fmt.Errorf("config: Keys: TrustedOrganizationKeys '%v': %w", s, err)
		}
		k.trusted = append(k.trusted, pk)
	}
	return nil
}

// Cache controls how often cached API responses are refreshed and how
// long dead drops are kept.
type Cache struct {
	// DeadDropCacheTTL is how far behind the newest dead drop a cached
	// dead drop is kept.
	DeadDropCacheTTL time.Duration

	// MinimumDurationBetweenDefaultDownloads rate limits downloads of the
	// published keys and of the dead drops.
	MinimumDurationBetweenDefaultDownloads time.Duration

	// MinimumDurationBetweenStatusUpdateDownloads rate limits downloads of
	// the system status.
	MinimumDurationBetweenStatusUpdateDownloads time.Duration
}

func (c *Cache) fixup() {
	if c.DeadDropCacheTTL == 0 {
		c.DeadDropCacheTTL = constants.DeadDropCacheTTL
	}
	if c.MinimumDurationBetweenDefaultDownloads == 0 {
		c.MinimumDurationBetweenDefaultDownloads = constants.StatusDownloadRate
	}
	if c.MinimumDurationBetweenStatusUpdateDownloads == 0 {
		c.MinimumDurationBetweenStatusUpdateDownloads = constants.StatusDownloadRate
	}
}

func (c *Cache) validate() error {
	switch {
	case c.DeadDropCacheTTL < 0:
		return errors.New("config: Cache: DeadDropCacheTTL is negative")
	case c.MinimumDurationBetweenDefaultDownloads < 0:
		return errors.New("config: Cache: MinimumDurationBetweenDefaultDownloads is negative")
	case c.MinimumDurationBetweenStatusUpdateDownloads < 0:
		return errors.New("config: Cache: MinimumDurationBetweenStatusUpdateDownloads is negative")
	}
	return nil
}

// Storage is the on disk state configuration.
type Storage struct {
	// DataDir is the directory holding the state database.
	DataDir string

	// Argon2Time, Argon2MemoryKiB and Argon2Threads are the passphrase
	// key derivation parameters.
	Argon2Time      uint32
	Argon2MemoryKiB uint32
	Argon2Threads   uint8
}

func (s *Storage) fixup() {
	if s.Argon2Time == 0 {
		s.Argon2Time = defaultArgon2Time
	}
	if s.Argon2MemoryKiB == 0 {
		s.Argon2MemoryKiB = defaultArgon2MemoryKiB
	}
	if s.Argon2Threads == 0 {
		s.Argon2Threads = defaultArgon2Threads
	}
}

func (s *Storage) validate() error {
	if s.DataDir == "" {
		return errors.New("config: Storage: DataDir is not set")
	}
	if !filepath.IsAbs(s.DataDir) {
		return fmt.Errorf("config: Storage: DataDir '%v' is not an absolute path", s.DataDir)
	}
	return nil
}

// DatabasePath returns the path of the state database.
func (s *Storage) DatabasePath() string {
	return filepath.Join(s.DataDir, "coverdrop.db")
}

// Debug is the debug configuration.
type Debug struct {
	// DisableDecoyTraffic stops cover messages from being sent while the
	// queue holds no real message. Only for local testing.
	DisableDecoyTraffic bool

	// LocalTestMode allows key hierarchies generated on the fly.
	LocalTestMode bool
}

// Metrics is the prometheus exporter configuration.
type Metrics struct {
	// Address is the listen address, the exporter is off when empty.
	Address string
}

// Config is the top level client configuration.
type Config struct {
	Logging *Logging
	Keys    *Keys
	Cache   *Cache
	Storage *Storage
	Debug   *Debug
	Metrics *Metrics
}

// TrustedOrganizationKeys returns the parsed trust anchors.
func (c *Config) TrustedOrganizationKeys() []*keys.SigningPublicKey {
	return c.Keys.trusted
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Keys == nil {
		return errors.New("config: No Keys block was present")
	}
	if c.Storage == nil {
		return errors.New("config: No Storage block was present")
	}

	// Handle missing sections if possible.
	if c.Logging == nil {
		l := defaultLogging
		c.Logging = &l
	}
	if c.Cache == nil {
		c.Cache = new(Cache)
	}
	if c.Debug == nil {
		c.Debug = new(Debug)
	}
	if c.Metrics == nil {
		c.Metrics = new(Metrics)
	}
	c.Cache.fixup()
	c.Storage.fixup()

	// Validate/fixup the various sections.
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Keys.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	return c.Storage.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)

	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
