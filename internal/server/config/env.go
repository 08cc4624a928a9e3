package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/securemail/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "SECUREMAIL_"

// parseEnv overlays SECUREMAIL_* environment variables onto config.
//
// A dotenv file is loaded first: the path from -env-file, or ./.env when it
// exists. Variables already present in the process environment are not
// overwritten by the file. Malformed values panic, like the other layers.
func parseEnv(config *Config) {
	envFile := flagx.EnvFileFlags()
	if envFile == "" {
		envFile = ".env"
		if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
			envFile = ""
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			panic(err)
		}
	}

	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.SecretKey, "SECRET_KEY")
	envString(&config.JWKSURL, "JWKS_URL")
	envString(&config.JWTIssuer, "JWT_ISSUER")
	envString(&config.S3RootUser, "S3_ROOT_USER")
	envString(&config.S3RootPassword, "S3_ROOT_PASSWORD")
	envString(&config.S3Bucket, "S3_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	envDuration(&config.SessionTTL, "SESSION_TTL")
	envInt(&config.KeyBits, "KEY_BITS")
	envInt(&config.KeygenWorkers, "KEYGEN_WORKERS")
	envString(&config.RecipientPolicy, "RECIPIENT_POLICY")
	envBool(&config.VerifySessionPassphrase, "VERIFY_SESSION_PASSPHRASE")
	envInt64(&config.MaxUploadSize, "MAX_UPLOAD_SIZE")
	envDuration(&config.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	envString(&config.LogLevel, "LOG_LEVEL")
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		*dst = v
	}
}

func envInt(dst *int, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(err)
		}
		*dst = n
	}
}

func envInt64(dst *int64, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(err)
		}
		*dst = n
	}
}

func envBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(err)
		}
		*dst = b
	}
}

func envDuration(dst *time.Duration, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		*dst = d
	}
}
