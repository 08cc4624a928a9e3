package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/securemail/internal/flagx"
	"github.com/dmitrijs2005/securemail/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "24h" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DatabaseDSN             string         `json:"database_dsn"`
	SecretKey               string         `json:"secret_key"`
	JWKSURL                 string         `json:"jwks_url"`
	JWTIssuer               string         `json:"jwt_issuer"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
	SessionTTL              timex.Duration `json:"session_ttl"`
	KeyBits                 int            `json:"key_bits"`
	KeygenWorkers           int            `json:"keygen_workers"`
	RecipientPolicy         string         `json:"recipient_policy"`
	VerifySessionPassphrase bool           `json:"verify_session_passphrase"`
	MaxUploadSize           int64          `json:"max_upload_size"`
	ShutdownTimeout         timex.Duration `json:"shutdown_timeout"`
	LogLevel                string         `json:"log_level"`
}

// parseJson overlays the JSON file named by -c/-config onto config.
// Keys missing from the file keep their current values. An unreadable file
// or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.JWKSURL = c.JWKSURL
	config.JWTIssuer = c.JWTIssuer
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.SessionTTL = c.SessionTTL.Duration
	config.KeyBits = c.KeyBits
	config.KeygenWorkers = c.KeygenWorkers
	config.RecipientPolicy = c.RecipientPolicy
	config.VerifySessionPassphrase = c.VerifySessionPassphrase
	config.MaxUploadSize = c.MaxUploadSize
	config.ShutdownTimeout = c.ShutdownTimeout.Duration
	config.LogLevel = c.LogLevel
}

func toJson(config *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrHTTP:        config.EndpointAddrHTTP,
		DatabaseDSN:             config.DatabaseDSN,
		SecretKey:               config.SecretKey,
		JWKSURL:                 config.JWKSURL,
		JWTIssuer:               config.JWTIssuer,
		S3RootUser:              config.S3RootUser,
		S3RootPassword:          config.S3RootPassword,
		S3Bucket:                config.S3Bucket,
		S3Region:                config.S3Region,
		S3BaseEndpoint:          config.S3BaseEndpoint,
		SessionTTL:              timex.Duration{Duration: config.SessionTTL},
		KeyBits:                 config.KeyBits,
		KeygenWorkers:           config.KeygenWorkers,
		RecipientPolicy:         config.RecipientPolicy,
		VerifySessionPassphrase: config.VerifySessionPassphrase,
		MaxUploadSize:           config.MaxUploadSize,
		ShutdownTimeout:         timex.Duration{Duration: config.ShutdownTimeout},
		LogLevel:                config.LogLevel,
	}
}
