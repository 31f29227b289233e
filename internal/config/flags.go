package config

import (
	"flag"
	"os"
	"time"

	"github.com/peervault/peervault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   peer HTTP bind address (e.g., ":8441")
//	-n string   this station's callsign
//	-d string   data directory
//	-f string   files directory (backup source / restore target)
//	-k string   identity keyfile path
//	-s string   session token HMAC secret
//	-i int      scheduler check interval, seconds
//	-o string   blob store backend ("fs" or "s3")
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Peers, contacts and exclusions have no flag form; use the JSON file.
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes
//     using flagx.FilterArgs, avoiding collisions with other components.
//   - The interval flag is accepted as an integer in seconds and then
//     converted to a time.Duration value. Seeding the default from the
//     current value keeps a JSON-configured interval intact when the
//     flag is absent.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-n", "-d", "-f", "-k", "-s", "-i", "-o", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port for the peer endpoint")
	fs.StringVar(&config.Callsign, "n", config.Callsign, "station callsign")
	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.FilesDir, "f", config.FilesDir, "files directory")
	fs.StringVar(&config.KeyfilePath, "k", config.KeyfilePath, "identity keyfile")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	scheduleInterval := fs.Int("i", int(config.ScheduleInterval.Seconds()), "schedule_interval (in seconds)")

	fs.StringVar(&config.BlobStore, "o", config.BlobStore, "blob store backend")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ScheduleInterval = time.Duration(*scheduleInterval) * time.Second
}
