package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	issuerEnvVar  = "ISSUER"
	baseURLVar    = "BASE_URL"
	signingKeyVar = "SIGNING_KEY"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetIssuer() string
	GetBaseURL() string
	GetSigningKey() string
	GetClientsFile() string
	GetEnv() string
}

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Grant Server")
}

// GetBaseURL returns the public base URL of the server (e.g.
// "https://auth.example.com"). Used in discovery metadata and endpoint URLs.
func (e EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetIssuer returns the issuer identifier placed in the iss claim of every
// token. Defaults to the base URL.
func (e EnvVars) GetIssuer() string {
	return GetEnv(issuerEnvVar, e.GetBaseURL())
}

// GetSigningKey returns the HMAC signing secret. Deployments that sign with
// an asymmetric key pair leave this empty.
func (EnvVars) GetSigningKey() string {
	return GetEnv(signingKeyVar, "")
}

// GetClientsFile returns the path of the JSON file the client registry is
// seeded from at startup. Empty means no seeding.
func (EnvVars) GetClientsFile() string {
	return GetEnv("CLIENTS_FILE", "")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
