package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CollectsEveryPath(t *testing.T) {
	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{
		"-c", "world.hcl",
		"--config", "computers/",
		"-data-dir", "/var/lib/grid",
		"-log-level", "DEBUG",
		"-log-format", "text",
		"-log-journal",
		"-healthcheck-port", "8080",
		"-max-ticks", "100",
		"extra.hcl",
	}, out)

	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, []string{"world.hcl", "computers/", "extra.hcl"}, cfg.ConfigPaths)
	assert.Equal(t, "/var/lib/grid", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.LogJournal)
	assert.Equal(t, 8080, cfg.HealthcheckPort)
	assert.Equal(t, uint64(100), cfg.MaxTicks)
}

func TestParse_Defaults(t *testing.T) {
	cfg, exit, err := Parse([]string{"grid/"}, &bytes.Buffer{})

	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, []string{"grid/"}, cfg.ConfigPaths)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DataDir)
	assert.Zero(t, cfg.MaxTicks)
	assert.False(t, cfg.LogJournal)
}

func TestParse_UsageWhenNothingGiven(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)

		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"-nope", "a.hcl"}, "flag provided but not defined: -nope"},
		{"log format", []string{"-log-format", "xml", "a.hcl"}, "invalid log-format"},
		{"log level", []string{"-log-level", "loud", "a.hcl"}, "invalid log-level"},
		{"port", []string{"-healthcheck-port", "70000", "a.hcl"}, "invalid healthcheck-port"},
		{"max ticks", []string{"-max-ticks", "-1", "a.hcl"}, "invalid value"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, exit, err := Parse(tc.args, &bytes.Buffer{})

			require.Error(t, err)
			assert.False(t, exit)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.want)
		})
	}
}
