package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/flagx"
)

var serverFlags = []string{"-a", "-g", "-d", "-s", "-u", "-k", "-r", "-t", "-l", "-b", "-e"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-u string   upload root directory
//	-k string   idempotency store backend: redis | postgres | memory
//	-r string   Redis address
//	-t int      transform timeout, seconds
//	-l string   log level
//	-b string   S3 mirror bucket (enables the mirror when set)
//	-e string   S3 base endpoint
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.UploadRoot, "u", config.UploadRoot, "upload root directory")
	fs.StringVar(&config.StoreBackend, "k", config.StoreBackend, "idempotency store backend")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	timeout := fs.Int("t", int(config.TransformTimeout.Seconds()), "transform timeout (in seconds)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	bucket := fs.String("b", "", "S3 mirror bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return err
	}

	config.TransformTimeout = time.Duration(*timeout) * time.Second
	if *bucket != "" {
		config.S3Bucket = *bucket
		config.S3Enabled = true
	}
	return nil
}
