// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keysDir := filepath.Join(dir, "keys")

	out, err := execute(t, "gen-hierarchy", "-o", keysDir, "--journalists", "alice,bob")
	require.NoError(t, err)
	m := regexp.MustCompile(`"([0-9a-f]{64})"`).FindStringSubmatch(out)
	require.Len(t, m, 2)

	cfgPath := filepath.Join(dir, "coverdrop.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[Logging]
  Disable = true
[Keys]
  TrustedOrganizationKeys = ["`+m[1]+`"]
[Storage]
  DataDir = "`+filepath.Join(dir, "data")+`"
  Argon2Time = 1
  Argon2MemoryKiB = 8192
  Argon2Threads = 1
[Debug]
  LocalTestMode = true
`), 0600))
	passPath := filepath.Join(dir, "pass.txt")
	require.NoError(t, os.WriteFile(passPath, []byte("correct horse\n"), 0600))
	secrets := filepath.Join(keysDir, secretsFile)
	common := []string{"-c", cfgPath, "--passphrase-file", passPath}
	run := func(args ...string) string {
		out, err := execute(t, append(append([]string(nil), common...), args...)...)
		require.NoError(t, err, out)
		return out
	}

	_, err = execute(t, append(common, "send", "-j", "alice", "hi")...)
	require.Error(t, err, "no published keys yet")

	out = run("verify-keys", filepath.Join(keysDir, publishedKeysFile))
	require.Contains(t, out, "organization "+m[1])
	require.Contains(t, out, "journalist alice identity")
	require.Contains(t, out, "covernode covernode_002 identity")

	out = run("import-keys", filepath.Join(keysDir, publishedKeysFile))
	require.Contains(t, out, "Stored 1 journalist and 1 CoverNode hierarchies")

	run("send", "-j", "alice", "hello", "alice")
	require.Contains(t, run("threads"), "(pending): hello alice")

	item := filepath.Join(dir, "item.msg")
	run("dequeue", "-o", item)
	out = run("local", "receive", "--secrets", secrets, item)
	m = regexp.MustCompile(`^to alice from ([0-9a-f]{64}): hello alice`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)

	run("dequeue", "-o", item)
	require.Contains(t, run("local", "receive", "--secrets", secrets, item), "cover message")

	drops := filepath.Join(dir, "deaddrops.json")
	run("local", "reply", "--secrets", secrets, "-j", "alice", "-u", m[1], "--id", "3", "-o", drops, "hello", "source")
	require.Contains(t, run("import-deaddrops", drops), "up to id 3")

	threads := run("threads")
	require.Contains(t, threads, "hello alice")
	require.NotContains(t, threads, "pending")
	require.Contains(t, threads, "hello source")
	require.True(t, strings.HasPrefix(threads, "== alice\n"))

	due := run("due", "--force")
	require.Contains(t, due, "published_keys")
	require.Contains(t, due, "dead_drops")
}

func TestLocalRequiresTestMode(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "coverdrop.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[Logging]
  Disable = true
[Keys]
  TrustedOrganizationKeys = ["3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29"]
[Storage]
  DataDir = "`+dir+`"
`), 0600))
	_, err := execute(t, "-c", cfgPath, "local", "receive", "item.msg")
	require.ErrorContains(t, err, "LocalTestMode")

	_, err = execute(t, "send", "-j", "alice", "hi")
	require.ErrorContains(t, err, "config file must be specified")
}
