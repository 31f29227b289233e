// Package config handles configuration for the PeerVault node,
// including defaults, JSON overlay, and command-line flags. Both the
// daemon and the interactive CLI run the same engine, so they share one
// Config.
package config

import "time"

// Blob store backends.
const (
	BlobStoreFS = "fs"
	BlobStoreS3 = "s3"
)

// Config holds runtime settings for a PeerVault node.
//
// Fields:
//   - Callsign: this station's callsign; peers address us by it.
//   - DataDir: root of the relationship and snapshot tree.
//   - FilesDir: directory that gets backed up and restored into.
//   - KeyfilePath: passphrase-encrypted identity keyfile.
//   - ListenAddr: bind address for the peer HTTP endpoint.
//   - SecretKey: HMAC secret for peer session tokens (HS256). Do not use
//     test defaults in prod.
//   - ScheduleInterval: how often the backup scheduler checks for due backups.
//   - ExcludeDirs: slash-relative prefixes under FilesDir left out of backups.
//   - Peers: callsign to base URL map for the HTTP transport.
//   - Contacts: callsigns trusted for auto-accepting invites.
//   - BlobStore: "fs" keeps blobs under DataDir, "s3" offloads them.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint: object storage settings.
type Config struct {
	Callsign         string
	DataDir          string
	FilesDir         string
	KeyfilePath      string
	ListenAddr       string
	SecretKey        string
	ScheduleInterval time.Duration
	ExcludeDirs      []string
	Peers            map[string]string
	Contacts         []string
	BlobStore        string
	S3RootUser       string
	S3RootPassword   string
	S3Bucket         string
	S3Region         string
	S3BaseEndpoint   string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.DataDir = "./data"
	c.FilesDir = "./files"
	c.KeyfilePath = "./identity.key"
	c.ListenAddr = ":8441"
	c.SecretKey = "secretKey"
	c.ScheduleInterval = 1 * time.Minute
	c.Peers = map[string]string{}
	c.BlobStore = BlobStoreFS
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "vault"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
