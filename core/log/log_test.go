// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, err := ParseLevel("notice")
	require.NoError(t, err)
	require.Equal(t, logging.NOTICE, lvl)

	_, err = ParseLevel("LOUD")
	require.Error(t, err)

	_, err = New("", "LOUD", true)
	require.Error(t, err)
}

func TestFileBackendAndRotate(t *testing.T) {
	t.Parallel()

	f := filepath.Join(t.TempDir(), "coverdrop.log")
	b, err := New(f, "INFO", false)
	require.NoError(t, err)

	l := b.GetLogger("test")
	l.Info("first")
	l.Debug("suppressed")
	require.True(t, b.IsEnabledFor(logging.INFO, "test"))
	require.False(t, b.IsEnabledFor(logging.DEBUG, "test"))

	require.NoError(t, os.Remove(f))
	require.NoError(t, b.Rotate())
	l.Notice("second")

	out, err := os.ReadFile(f)
	require.NoError(t, err)
	require.Contains(t, string(out), "second")
	require.NotContains(t, string(out), "first")
	require.NotContains(t, string(out), "suppressed")
}

func TestDisabledBackend(t *testing.T) {
	t.Parallel()

	b, err := New("", "DEBUG", true)
	require.NoError(t, err)
	b.GetLogger("quiet").Error("dropped")
	require.NoError(t, b.Rotate())
}
