// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/coverdrop/client/instrument"
	"github.com/katzenpost/coverdrop/client/session"
)

func newRunCommand(cfg *Config) *cobra.Command {
	var (
		outbox   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dequeue one message per interval into an outbox directory",
		Long: `Run the sending loop. Every interval the front of the private sending queue
is written to the outbox directory, whether it is a real message or cover
traffic, so that the rate of outbound messages never depends on the user.

SIGHUP reopens the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outbox == "" {
				return errors.New("required flag --outbox not set")
			}
			if interval <= 0 {
				return errors.New("invalid argument: --interval must be positive")
			}
			if err := os.MkdirAll(outbox, 0700); err != nil {
				return err
			}
			return withSession(cfg, func(c *client, s *session.Session) error {
				return runLoop(c, s, outbox, interval)
			})
		},
	}
	cmd.Flags().StringVar(&outbox, "outbox", "", "directory receiving the outbound messages")
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between two outbound messages")
	return cmd
}

func runLoop(c *client, s *session.Session, outbox string, interval time.Duration) error {
	log := c.backend.GetLogger("run")

	if addr := c.cfg.Metrics.Address; addr != "" {
		srv, err := instrument.Start(addr, c.backend.GetLogger("instrument"))
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(haltCh)
	defer signal.Stop(rotateCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Noticef("Sending one message every %v into %v", interval, outbox)
	for {
		select {
		case <-haltCh:
			log.Notice("Shutting down")
			return nil
		case <-rotateCh:
			if err := c.backend.Rotate(); err != nil {
				log.Errorf("Failed to rotate the log: %v", err)
			}
		case <-ticker.C:
			dequeueOnce(c, s, outbox)
		}
	}
}
