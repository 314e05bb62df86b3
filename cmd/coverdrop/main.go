// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// coverdrop is the command line CoverDrop user client.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/katzenpost/coverdrop/client/config"
	"github.com/katzenpost/coverdrop/client/session"
	"github.com/katzenpost/coverdrop/client/storage"
	"github.com/katzenpost/coverdrop/common"
	"github.com/katzenpost/coverdrop/core/log"
)

const passphraseEnv = "COVERDROP_PASSPHRASE"

// Config holds the command line configuration
type Config struct {
	ConfigFile     string
	PassphraseFile string
}

// client bundles everything a command needs once the config is loaded.
type client struct {
	cfg     *config.Config
	backend *log.Backend
	store   *storage.Store
}

func (c *client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

func openClient(cfg *Config) (*client, error) {
	if err := requireConfig(cfg); err != nil {
		return nil, err
	}
	clientCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}
	backend, err := log.New(clientCfg.Logging.File, clientCfg.Logging.Level, clientCfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(clientCfg.Storage.DataDir, 0700); err != nil {
		return nil, err
	}
	store, err := storage.Open(clientCfg.Storage.DatabasePath(), rand.Reader, backend.GetLogger("storage"))
	if err != nil {
		return nil, err
	}
	return &client{cfg: clientCfg, backend: backend, store: store}, nil
}

func readPassphrase(cfg *Config) (string, error) {
	if cfg.PassphraseFile != "" {
		b, err := os.ReadFile(cfg.PassphraseFile)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\r\n"), nil
	}
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	return "", errors.New("no passphrase: use --passphrase-file or set " + passphraseEnv)
}

// unlock opens the session, deriving the storage key from the passphrase.
func (c *client) unlock(cfg *Config) (*session.Session, error) {
	passphrase, err := readPassphrase(cfg)
	if err != nil {
		return nil, err
	}
	params := storage.KDFParams{
		Time:      c.cfg.Storage.Argon2Time,
		MemoryKiB: c.cfg.Storage.Argon2MemoryKiB,
		Threads:   c.cfg.Storage.Argon2Threads,
	}
	env, err := storage.NewPassphraseEnvelope(passphrase, c.store.Salt(), params, rand.Reader)
	if err != nil {
		return nil, err
	}
	return session.Open(c.cfg, c.store, env, rand.Reader, c.backend.GetLogger("session"))
}

// withClient runs fn with an open client, closing it afterwards.
func withClient(cfg *Config, fn func(*client) error) error {
	c, err := openClient(cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// withSession runs fn with an unlocked session, locking it afterwards.
func withSession(cfg *Config, fn func(*client, *session.Session) error) error {
	return withClient(cfg, func(c *client) error {
		s, err := c.unlock(cfg)
		if err != nil {
			return err
		}
		err = fn(c, s)
		if cerr := s.Close(); err == nil {
			err = cerr
		}
		return err
	})
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "coverdrop",
		Short: "CoverDrop user client",
		Long: `A command line CoverDrop user client.

Messages to journalists are padded, encrypted and placed in a fixed size
private sending queue that is indistinguishable from cover traffic. Replies
arrive in signed dead drops published by the CoverNodes. All private state is
kept in a passphrase protected database.`,
		Example: `  # Trust and store a published keys document
  coverdrop -c coverdrop.toml import-keys published_keys.json

  # Send a message
  COVERDROP_PASSPHRASE=... coverdrop -c coverdrop.toml send -j alice "hello"

  # Run the sending loop
  coverdrop -c coverdrop.toml --passphrase-file pass.txt run --outbox ./outbox`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the client configuration file (TOML format)")
	cmd.PersistentFlags().StringVar(&cfg.PassphraseFile, "passphrase-file", "",
		"file holding the storage passphrase, defaults to $"+passphraseEnv)

	cmd.AddCommand(
		newVerifyKeysCommand(&cfg),
		newImportKeysCommand(&cfg),
		newImportDeadDropsCommand(&cfg),
		newSendCommand(&cfg),
		newThreadsCommand(&cfg),
		newDequeueCommand(&cfg),
		newDueCommand(&cfg),
		newRunCommand(&cfg),
		newGenHierarchyCommand(),
		newLocalCommand(&cfg),
	)
	return cmd
}

func requireConfig(cfg *Config) error {
	if cfg.ConfigFile == "" {
		return errors.New("config file must be specified with -c/--config")
	}
	return nil
}

func main() {
	rootCmd := newRootCommand()
	common.ExecuteWithFang(rootCmd)
}
