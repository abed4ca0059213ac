package raceconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDecodesFullTree(t *testing.T) {
	path := writeTemp(t, `{
		"name": "sector-42",
		"node-id": "n1",
		"column-list": "columns.json",
		"row-list": "rows.json",
		"formula-list": "formulas.json",
		"column-data": "data.json",
		"buffer-size": 8192,
		"timeout": 5000,
		"user-credentials": "credentials.json",
		"rp-id": "race.example.org",
		"rp-name": "RACE Airspace Evaluation",
		"rp-origins": ["https://race.example.org"],
		"authenticator-attachment": "platform",
		"user-verification": "required",
		"resident-key": true,
		"scheduler": {
			"checkpoint-interval": "30s",
			"constraint-sweep-interval": "5s",
			"keep-alive": true
		},
		"ingest": {
			"subjects": ["race.tracks.>"],
			"workers": 4,
			"nats": {
				"address": "nats://localhost:4222",
				"username": "race",
				"password": "secret"
			}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sector-42", cfg.Name)
	require.Equal(t, "n1", cfg.NodeID)
	require.Equal(t, 8192, cfg.BufferSize)
	require.Equal(t, "platform", cfg.WebAuthn.AuthenticatorAttachment)
	require.True(t, cfg.WebAuthn.ResidentKey)
	require.Equal(t, []string{"https://race.example.org"}, cfg.WebAuthn.RPOrigins)
	require.Equal(t, "30s", cfg.Scheduler.CheckpointInterval)
	require.Equal(t, 4, cfg.Ingest.Workers)
	require.Equal(t, []string{"race.tracks.>"}, cfg.Ingest.Subjects)
	require.Equal(t, "nats://localhost:4222", cfg.Ingest.NATS.Address)
	require.Equal(t, "race", cfg.Ingest.NATS.Username)
}

func TestLoadDefaultsBufferSize(t *testing.T) {
	path := writeTemp(t, `{"node-id": "n1", "column-list": "c.json", "row-list": "r.json"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.BufferSize)
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	path := writeTemp(t, `{"name": "no-node-id"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadEnum(t *testing.T) {
	path := writeTemp(t, `{
		"node-id": "n1", "column-list": "c.json", "row-list": "r.json",
		"authenticator-attachment": "floating"
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeTemp(t, `{
		"node-id": "n1", "column-list": "c.json", "row-list": "r.json",
		"unexpected-key": true
	}`)
	_, err := Load(path)
	require.Error(t, err)
}
