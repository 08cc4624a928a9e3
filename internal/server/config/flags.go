package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/securemail/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-j string   JWKS URL of the identity provider
//	-i string   expected JWT issuer
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-t int      session lifetime, minutes
//	-k int      RSA key size in bits
//	-w int      concurrent key generations
//	-r string   recipient policy: fallback or reject
//	-v bool     verify passphrase on session creation
//	-m int      max upload size, bytes
//	-l string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-j", "-i", "-u", "-p", "-b", "-g", "-e", "-t", "-k", "-w", "-r", "-v", "-m", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.JWKSURL, "j", config.JWKSURL, "JWKS URL")
	fs.StringVar(&config.JWTIssuer, "i", config.JWTIssuer, "JWT issuer")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session_ttl (in minutes)")

	fs.IntVar(&config.KeyBits, "k", config.KeyBits, "RSA key size")
	fs.IntVar(&config.KeygenWorkers, "w", config.KeygenWorkers, "concurrent key generations")
	fs.StringVar(&config.RecipientPolicy, "r", config.RecipientPolicy, "recipient policy (fallback|reject)")
	fs.BoolVar(&config.VerifySessionPassphrase, "v", config.VerifySessionPassphrase, "verify passphrase on session creation")
	fs.Int64Var(&config.MaxUploadSize, "m", config.MaxUploadSize, "max upload size in bytes")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
}
