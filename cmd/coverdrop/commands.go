// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/coverdrop/client/config"
	"github.com/katzenpost/coverdrop/client/session"
	"github.com/katzenpost/coverdrop/core/pki"
)

func printKeyFamilies(w io.Writer, kind string, families map[string][]*pki.VerifiedKeyFamily) {
	ids := make([]string, 0, len(families))
	for id := range families {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, f := range families[id] {
			fmt.Fprintf(w, "  %s %s identity %s\n", kind, id, f.IDPk.PK.Hex())
			for _, k := range f.MsgPks {
				fmt.Fprintf(w, "    messaging %s until %s\n", k.PK.Hex(), k.NotValidAfter.Format(time.RFC3339))
			}
		}
	}
}

func newVerifyKeysCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-keys FILE",
		Short: "Verify a published keys document and print the surviving tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(cfg); err != nil {
				return err
			}
			clientCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return fmt.Errorf("failed to load config file: %v", err)
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			v, err := session.VerifyPublishedKeys(raw, clientCfg.TrustedOrganizationKeys(), time.Now())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, h := range v.Keys {
				fmt.Fprintf(w, "organization %s\n", h.OrgPk.PK.Hex())
				for _, cn := range h.CoverNodes {
					printKeyFamilies(w, "covernode", cn.CoverNodes)
				}
				for _, j := range h.Journalists {
					printKeyFamilies(w, "journalist", j.Journalists)
				}
			}
			return nil
		},
	}
}

func newImportKeysCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import-keys FILE",
		Short: "Verify and store a published keys document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withClient(cfg, func(c *client) error {
				v, err := session.ImportPublishedKeys(c.store, raw, c.cfg.TrustedOrganizationKeys(), time.Now())
				if err != nil {
					return err
				}
				journalists := len(v.JournalistHierarchies())
				coverNodes := len(v.CoverNodeHierarchies())
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d journalist and %d CoverNode hierarchies\n", journalists, coverNodes)
				return nil
			})
		},
	}
}

func newImportDeadDropsCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "import-deaddrops FILE",
		Short: "Merge a downloaded dead drop listing and decrypt replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withSession(cfg, func(_ *client, s *session.Session) error {
				if err := s.UpdateDeadDrops(raw); err != nil {
					return err
				}
				id, err := s.LargestDeadDropID()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dead drops cached up to id %d\n", id)
				return nil
			})
		},
	}
}

func newSendCommand(cfg *Config) *cobra.Command {
	var journalist string
	cmd := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "Queue a message to a journalist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cfg, func(_ *client, s *session.Session) error {
				hint, err := s.SendMessage(journalist, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued message %x, %d real messages pending\n", hint[:], s.RealMessageCount())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&journalist, "journalist", "j", "", "journalist id")
	cmd.MarkFlagRequired("journalist")
	return cmd
}

func newThreadsCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "Print every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cfg, func(_ *client, s *session.Session) error {
				w := cmd.OutOrStdout()
				for _, t := range s.Threads() {
					fmt.Fprintf(w, "== %s\n", t.RecipientID)
					for i := range t.Messages {
						m := &t.Messages[i]
						state := ""
						if s.IsPending(m) {
							state = " (pending)"
						}
						fmt.Fprintf(w, "%s %s%s: %s\n", m.Timestamp.Format(time.RFC3339), m.Type, state, m.Payload)
					}
				}
				return nil
			})
		},
	}
}

func newDequeueCommand(cfg *Config) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dequeue",
		Short: "Pop the next outbound message, real or cover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cfg, func(_ *client, s *session.Session) error {
				msg, err := s.DequeueForSending()
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(msg))
					return nil
				}
				return os.WriteFile(out, msg, 0600)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the message to this file instead of printing it as hex")
	return cmd
}

func newDueCommand(cfg *Config) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List the API resources that should be downloaded again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cfg, func(_ *client, s *session.Session) error {
				due, err := s.DueDownloads(force)
				if err != nil {
					return err
				}
				for _, k := range due {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the download rate limits")
	return cmd
}

func writeOutbound(dir string, msg []byte) (string, error) {
	name := filepath.Join(dir, fmt.Sprintf("%d.msg", time.Now().UnixNano()))
	return name, os.WriteFile(name, msg, 0600)
}

func dequeueOnce(c *client, s *session.Session, outbox string) {
	log := c.backend.GetLogger("run")
	msg, err := s.DequeueForSending()
	switch {
	case errors.Is(err, session.ErrNothingToSend):
		log.Debug("Nothing to send")
		return
	case err != nil:
		log.Errorf("Failed to dequeue: %v", err)
		return
	}
	name, err := writeOutbound(outbox, msg)
	if err != nil {
		log.Errorf("Failed to write outbound message: %v", err)
		return
	}
	log.Debugf("Wrote %v", name)

	due, err := s.DueDownloads(false)
	if err != nil {
		log.Errorf("Failed to check the cache: %v", err)
		return
	}
	for _, k := range due {
		log.Noticef("%v is due for download", k)
	}
}
