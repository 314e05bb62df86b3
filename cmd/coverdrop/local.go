// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/katzenpost/coverdrop/client/deaddrop"
	"github.com/katzenpost/coverdrop/client/protocol"
	"github.com/katzenpost/coverdrop/core/constants"
	"github.com/katzenpost/coverdrop/core/crypto/keys"
	"github.com/katzenpost/coverdrop/core/pki/pkitest"
)

const (
	publishedKeysFile = "published_keys.json"
	secretsFile       = "secrets.json"
)

// encryptionSecret is an exported messaging key pair.
type encryptionSecret struct {
	Public string `json:"public"`
	Secret string `json:"secret"`
}

func (e *encryptionSecret) keyPair() (*keys.EncryptionKeyPair, error) {
	pub, err := hex.DecodeString(e.Public)
	if err != nil {
		return nil, err
	}
	sec, err := hex.DecodeString(e.Secret)
	if err != nil {
		return nil, err
	}
	return keys.EncryptionKeyPairFromBytes(pub, sec)
}

// localSecrets holds the private half of a generated hierarchy so that the
// CoverNode and journalist side of a conversation can be played locally.
type localSecrets struct {
	Organization   string                      `json:"organization"`
	CoverNodeIDs   map[string]string           `json:"covernode_ids"`
	CoverNodeMsgs  map[string]encryptionSecret `json:"covernode_messaging"`
	JournalistMsgs map[string]encryptionSecret `json:"journalist_messaging"`
}

func exportEncryption(kp *keys.EncryptionKeyPair) encryptionSecret {
	return encryptionSecret{
		Public: kp.Public.Hex(),
		Secret: hex.EncodeToString(kp.SecretBytes()),
	}
}

func loadSecrets(path string) (*localSecrets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := new(localSecrets)
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("invalid secrets file: %v", err)
	}
	return s, nil
}

func splitNames(s string) []string {
	var out []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func newGenHierarchyCommand() *cobra.Command {
	var (
		out         string
		coverNodes  string
		journalists string
	)
	cmd := &cobra.Command{
		Use:   "gen-hierarchy",
		Short: "Generate a key hierarchy for local testing",
		Long: `Generate an organization, CoverNode and journalist key hierarchy valid from
now. The published keys document and the matching secrets are written to the
output directory, and the organization key to trust is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cn, js := splitNames(coverNodes), splitNames(journalists)
			if len(cn) < constants.CoverNodeWrappingKeyCount {
				return fmt.Errorf("invalid argument: at least %d CoverNodes are needed", constants.CoverNodeWrappingKeyCount)
			}
			if len(js) == 0 {
				return errors.New("invalid argument: no journalists")
			}
			h, err := pkitest.Generate(rand.Reader, time.Now(), cn, js)
			if err != nil {
				return err
			}
			published, err := h.Published.Marshal()
			if err != nil {
				return err
			}

			secrets := &localSecrets{
				Organization:   h.Org.Public.Hex(),
				CoverNodeIDs:   make(map[string]string),
				CoverNodeMsgs:  make(map[string]encryptionSecret),
				JournalistMsgs: make(map[string]encryptionSecret),
			}
			for name, kp := range h.CoverNodeIDs {
				secrets.CoverNodeIDs[name] = hex.EncodeToString(kp.Seed())
			}
			for name, kp := range h.CoverNodeMsgs {
				secrets.CoverNodeMsgs[name] = exportEncryption(kp)
			}
			for name, kp := range h.JournalistMsgs {
				secrets.JournalistMsgs[name] = exportEncryption(kp)
			}
			b, err := json.MarshalIndent(secrets, "", "  ")
			if err != nil {
				return err
			}

			if err := os.MkdirAll(out, 0700); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(out, publishedKeysFile), published, 0644); err != nil {
				return err
			}
			if err := os.WriteFile(filepath.Join(out, secretsFile), b, 0600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TrustedOrganizationKeys = [\"%s\"]\n", h.Org.Public.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", ".", "output directory")
	cmd.Flags().StringVar(&coverNodes, "covernodes", "covernode_001,covernode_002", "comma separated CoverNode ids")
	cmd.Flags().StringVar(&journalists, "journalists", "", "comma separated journalist ids")
	cmd.MarkFlagRequired("journalists")
	return cmd
}

// newLocalCommand groups the commands that play the other side of the
// protocol. They only run with Debug.LocalTestMode set.
func newLocalCommand(cfg *Config) *cobra.Command {
	var secretsPath string
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Play the CoverNode and journalist side in local test mode",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(c *client) error {
				if !c.cfg.Debug.LocalTestMode {
					return errors.New("local commands require Debug.LocalTestMode")
				}
				return nil
			})
		},
	}
	cmd.PersistentFlags().StringVar(&secretsPath, "secrets", secretsFile, "secrets written by gen-hierarchy")
	cmd.AddCommand(newLocalReceiveCommand(&secretsPath), newLocalReplyCommand(&secretsPath))
	return cmd
}

func newLocalReceiveCommand(secretsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "receive FILE",
		Short: "Decrypt a dequeued message as CoverNode and journalist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := loadSecrets(*secretsPath)
			if err != nil {
				return err
			}
			msg, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			names := make([]string, 0, len(secrets.CoverNodeMsgs))
			for name := range secrets.CoverNodeMsgs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				e := secrets.CoverNodeMsgs[name]
				kp, err := e.keyPair()
				if err != nil {
					return err
				}
				tag, inner, err := protocol.OpenAsCoverNode(kp, msg)
				if err != nil {
					continue
				}
				if tag.IsCover() {
					fmt.Fprintf(w, "%s: cover message\n", name)
					return nil
				}
				for journalist, je := range secrets.JournalistMsgs {
					if protocol.RecipientTagFromJournalistID(journalist) != tag {
						continue
					}
					jkp, err := je.keyPair()
					if err != nil {
						return err
					}
					userPk, text, err := protocol.OpenAsJournalist(jkp, inner)
					if err != nil {
						return err
					}
					s, err := text.String()
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "to %s from %s: %s\n", journalist, userPk.Hex(), s)
					return nil
				}
				return fmt.Errorf("no journalist for tag %v", tag)
			}
			return errors.New("no CoverNode key opens the message")
		},
	}
}

func newLocalReplyCommand(secretsPath *string) *cobra.Command {
	var (
		journalist string
		user       string
		handover   string
		id         int64
		out        string
	)
	cmd := &cobra.Command{
		Use:   "reply MESSAGE",
		Short: "Publish a journalist reply as a signed dead drop listing",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := loadSecrets(*secretsPath)
			if err != nil {
				return err
			}
			je, ok := secrets.JournalistMsgs[journalist]
			if !ok {
				return fmt.Errorf("invalid argument: unknown journalist %v", journalist)
			}
			jkp, err := je.keyPair()
			if err != nil {
				return err
			}
			userPk, err := keys.EncryptionPublicKeyFromHex(user)
			if err != nil {
				return err
			}

			flag := byte(constants.FlagJ2UMessageTypeMessage)
			var payload []byte
			if handover != "" {
				flag = constants.FlagJ2UMessageTypeHandover
				if payload, err = protocol.HandoverPayload(handover); err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return errors.New("accepts a MESSAGE unless --handover is set")
				}
				text, err := protocol.NewPaddedCompressedString(rand.Reader, strings.Join(args, " "))
				if err != nil {
					return err
				}
				payload = text.Bytes()
			}
			box, err := protocol.New(rand.Reader).EncryptJournalistToUserMessage(jkp, userPk, flag, payload)
			if err != nil {
				return err
			}

			// The first CoverNode by id signs the dead drop.
			names := make([]string, 0, len(secrets.CoverNodeIDs))
			for name := range secrets.CoverNodeIDs {
				names = append(names, name)
			}
			if len(names) == 0 {
				return errors.New("secrets hold no CoverNode")
			}
			sort.Strings(names)
			seed, err := hex.DecodeString(secrets.CoverNodeIDs[names[0]])
			if err != nil {
				return err
			}
			signer, err := keys.SigningKeyPairFromSeed(seed)
			if err != nil {
				return err
			}
			list := &deaddrop.PublishedDeadDropList{DeadDrops: []deaddrop.PublishedDeadDrop{
				deaddrop.Publish(signer, id, time.Now(), [][]byte{box.Bytes()}),
			}}
			b, err := list.Marshal()
			if err != nil {
				return err
			}
			return os.WriteFile(out, b, 0644)
		},
	}
	cmd.Flags().StringVarP(&journalist, "journalist", "j", "", "replying journalist id")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user public key, as printed by local receive")
	cmd.Flags().StringVar(&handover, "handover", "", "hand the conversation over to this journalist instead")
	cmd.Flags().Int64Var(&id, "id", 1, "dead drop id")
	cmd.Flags().StringVarP(&out, "out", "o", "deaddrops.json", "output file")
	cmd.MarkFlagRequired("journalist")
	cmd.MarkFlagRequired("user")
	return cmd
}
