// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/coverdrop/core/constants"
)

const testKey = "3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29"

func TestConfigFile(t *testing.T) {
	cfg, err := LoadFile("testdata/coverdrop.toml")
	require.NoError(t, err)

	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Len(t, cfg.TrustedOrganizationKeys(), 1)
	require.Equal(t, testKey, cfg.TrustedOrganizationKeys()[0].Hex())
	require.Equal(t, 14*24*time.Hour, cfg.Cache.DeadDropCacheTTL)
	require.Equal(t, time.Hour, cfg.Cache.MinimumDurationBetweenDefaultDownloads)
	require.Equal(t, 5*time.Minute, cfg.Cache.MinimumDurationBetweenStatusUpdateDownloads)
	require.Equal(t, uint32(8192), cfg.Storage.Argon2MemoryKiB)
	require.Equal(t, uint32(defaultArgon2Time), cfg.Storage.Argon2Time)
	require.Equal(t, "/var/lib/coverdrop/coverdrop.db", cfg.Storage.DatabasePath())
	require.True(t, cfg.Debug.LocalTestMode)
	require.Equal(t, "127.0.0.1:6543", cfg.Metrics.Address)
}

func TestDefaults(t *testing.T) {
	cfg, err := Load([]byte(`
[Keys]
  TrustedOrganizationKeys = ["` + testKey + `"]
[Storage]
  DataDir = "/tmp/coverdrop"
`))
	require.NoError(t, err)
	require.Equal(t, defaultLogLevel, cfg.Logging.Level)
	require.Equal(t, constants.DeadDropCacheTTL, cfg.Cache.DeadDropCacheTTL)

	// The two download knobs are independent even though they share a
	// default.
	require.Equal(t, constants.StatusDownloadRate, cfg.Cache.MinimumDurationBetweenDefaultDownloads)
	require.Equal(t, constants.StatusDownloadRate, cfg.Cache.MinimumDurationBetweenStatusUpdateDownloads)
	require.Empty(t, cfg.Metrics.Address)
	require.False(t, cfg.Debug.DisableDecoyTraffic)
}

func TestInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"no keys":    "[Storage]\nDataDir = \"/tmp\"\n",
		"no storage": "[Keys]\nTrustedOrganizationKeys = [\"" + testKey + "\"]\n",
		"bad key":    "[Keys]\nTrustedOrganizationKeys = [\"abcd\"]\n[Storage]\nDataDir = \"/tmp\"\n",
		"empty keys": "[Keys]\nTrustedOrganizationKeys = []\n[Storage]\nDataDir = \"/tmp\"\n",
		"relative":   "[Keys]\nTrustedOrganizationKeys = [\"" + testKey + "\"]\n[Storage]\nDataDir = \"data\"\n",
		"bad level":  "[Logging]\nLevel = \"LOUD\"\n[Keys]\nTrustedOrganizationKeys = [\"" + testKey + "\"]\n[Storage]\nDataDir = \"/tmp\"\n",
		"negative":   "[Cache]\nDeadDropCacheTTL = \"-1h\"\n[Keys]\nTrustedOrganizationKeys = [\"" + testKey + "\"]\n[Storage]\nDataDir = \"/tmp\"\n",
		"undecoded":  "[Keys]\nTrustedOrganizationKeys = [\"" + testKey + "\"]\nBogus = 1\n[Storage]\nDataDir = \"/tmp\"\n",
	} {
		_, err := Load([]byte(body))
		require.Error(t, err, name)
	}
}
