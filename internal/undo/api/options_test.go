package api

import (
	log "log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/undotx/internal/undo/guard"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		in   string
		want Config
	}{
		{"", Config{}},
		{"strict=1", Config{Strict: true}},
		{"  shared=true   sites=1 ", Config{Shared: true, RecordSites: true}},
		{"violation=abort", Config{Violation: guard.PolicyAbort}},
		{"log=debug", Config{LogLevel: log.LevelDebug, SetLog: true}},
		{
			"strict=1 shared=1 sites=1 violation=silent log=warn",
			Config{Strict: true, Shared: true, RecordSites: true, Violation: guard.PolicySilent, LogLevel: log.LevelWarn, SetLog: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConfig(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfigErrors(t *testing.T) {
	for _, in := range []string{
		"strict",
		"strict=maybe",
		"violation=explode",
		"log=loud",
		"color=1",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseConfig(in)
			require.Error(t, err)
			require.Contains(t, err.Error(), EnvOptions)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := Config{Strict: true, Violation: guard.PolicyAbort, LogLevel: log.LevelDebug, SetLog: true}
	require.Equal(t, "strict=1 shared=0 sites=0 violation=abort log=debug", cfg.String())

	round, err := ParseConfig(cfg.String())
	require.NoError(t, err)
	require.Equal(t, cfg, round)
}
