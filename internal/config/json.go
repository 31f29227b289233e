package config

import (
	"encoding/json"
	"os"

	"github.com/peervault/peervault/internal/flagx"
	"github.com/peervault/peervault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify intervals either as strings like
// "90s" or as integer nanoseconds. After parsing, values are copied into
// the runtime Config (which uses time.Duration).
type JsonConfig struct {
	Callsign         string            `json:"callsign"`
	DataDir          string            `json:"data_dir"`
	FilesDir         string            `json:"files_dir"`
	KeyfilePath      string            `json:"keyfile_path"`
	ListenAddr       string            `json:"listen_addr"`
	SecretKey        string            `json:"secret_key"`
	ScheduleInterval timex.Duration    `json:"schedule_interval"`
	ExcludeDirs      []string          `json:"exclude_dirs"`
	Peers            map[string]string `json:"peers"`
	Contacts         []string          `json:"contacts"`
	BlobStore        string            `json:"blob_store"`
	S3RootUser       string            `json:"s3_root_user"`
	S3RootPassword   string            `json:"s3_root_password"`
	S3Bucket         string            `json:"s3_bucket"`
	S3Region         string            `json:"s3_region"`
	S3BaseEndpoint   string            `json:"s3_base_endpoint"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// The DTO is seeded from the current Config before unmarshalling, so a
// partial config file overrides only the keys it names. Panics on read
// or unmarshal errors.
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later
// stages override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	jc := JsonConfig{
		Callsign:         cfg.Callsign,
		DataDir:          cfg.DataDir,
		FilesDir:         cfg.FilesDir,
		KeyfilePath:      cfg.KeyfilePath,
		ListenAddr:       cfg.ListenAddr,
		SecretKey:        cfg.SecretKey,
		ScheduleInterval: timex.Duration{Duration: cfg.ScheduleInterval},
		ExcludeDirs:      cfg.ExcludeDirs,
		Peers:            cfg.Peers,
		Contacts:         cfg.Contacts,
		BlobStore:        cfg.BlobStore,
		S3RootUser:       cfg.S3RootUser,
		S3RootPassword:   cfg.S3RootPassword,
		S3Bucket:         cfg.S3Bucket,
		S3Region:         cfg.S3Region,
		S3BaseEndpoint:   cfg.S3BaseEndpoint,
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.Callsign = jc.Callsign
	cfg.DataDir = jc.DataDir
	cfg.FilesDir = jc.FilesDir
	cfg.KeyfilePath = jc.KeyfilePath
	cfg.ListenAddr = jc.ListenAddr
	cfg.SecretKey = jc.SecretKey
	cfg.ScheduleInterval = jc.ScheduleInterval.Duration
	cfg.ExcludeDirs = jc.ExcludeDirs
	cfg.Peers = jc.Peers
	cfg.Contacts = jc.Contacts
	cfg.BlobStore = jc.BlobStore
	cfg.S3RootUser = jc.S3RootUser
	cfg.S3RootPassword = jc.S3RootPassword
	cfg.S3Bucket = jc.S3Bucket
	cfg.S3Region = jc.S3Region
	cfg.S3BaseEndpoint = jc.S3BaseEndpoint
}
