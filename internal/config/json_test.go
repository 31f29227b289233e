package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"callsign":          "ALFA",
		"data_dir":          "/var/lib/peervault",
		"files_dir":         "/home/op/files",
		"keyfile_path":      "/home/op/.peervault.key",
		"listen_addr":       "127.0.0.1:9441",
		"secret_key":        "my_secret_key",
		"schedule_interval": "90s",
		"exclude_dirs":      []string{"tmp", "cache"},
		"peers": map[string]string{
			"BASE1": "http://base1.local:8441",
			"BASE2": "http://base2.local:8441",
		},
		"contacts":         []string{"BASE1"},
		"blob_store":       "s3",
		"s3_root_user":     "user",
		"s3_root_password": "password",
		"s3_bucket":        "bucket",
		"s3_region":        "region",
		"s3_base_endpoint": "base_endpoint",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "ALFA", cfg.Callsign)
		assert.Equal(t, "/var/lib/peervault", cfg.DataDir)
		assert.Equal(t, "/home/op/files", cfg.FilesDir)
		assert.Equal(t, "/home/op/.peervault.key", cfg.KeyfilePath)
		assert.Equal(t, "127.0.0.1:9441", cfg.ListenAddr)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 90*time.Second, cfg.ScheduleInterval)
		assert.Equal(t, []string{"tmp", "cache"}, cfg.ExcludeDirs)
		assert.Equal(t, "http://base1.local:8441", cfg.Peers["BASE1"])
		assert.Equal(t, []string{"BASE1"}, cfg.Contacts)
		assert.Equal(t, BlobStoreS3, cfg.BlobStore)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
	})

	t.Run("partial json keeps other fields", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{
			"callsign": "BRAVO",
			"peers":    map[string]string{"BASE9": "http://base9.local:8441"},
		})
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "BRAVO", cfg.Callsign)
		assert.Equal(t, "http://base9.local:8441", cfg.Peers["BASE9"])
		assert.Equal(t, "./data", cfg.DataDir)
		assert.Equal(t, ":8441", cfg.ListenAddr)
		assert.Equal(t, 1*time.Minute, cfg.ScheduleInterval)
	})

	t.Run("no CONFIG and no flags, no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			Callsign:   "CHARLIE",
			DataDir:    "keep",
			ListenAddr: "defaults:1234",
		}
		parseJson(cfg)

		assert.Equal(t, "CHARLIE", cfg.Callsign)
		assert.Equal(t, "keep", cfg.DataDir)
		assert.Equal(t, "defaults:1234", cfg.ListenAddr)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
