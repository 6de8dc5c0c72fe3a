package gdrive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrTokenNeedsCredentials is returned when a token file is configured
// without the OAuth client credentials it was issued for.
var ErrTokenNeedsCredentials = errors.New("gdrive: token_file requires credentials_file")

// Config holds the settings for connecting to the Drive API.
type Config struct {
	// CredentialsFile is a service account key or, together with TokenFile,
	// an OAuth client secret. Empty means Application Default Credentials.
	CredentialsFile string

	// TokenFile holds a stored OAuth2 user token (JSON).
	TokenFile string

	// Subject is the user a service account impersonates through
	// domain-wide delegation.
	Subject string

	// RequestsPerSecond bounds the call rate. Default: 10.
	RequestsPerSecond float64

	// Burst is the token bucket size. Default: 10.
	Burst int

	// MaxRetries is the number of retries of a retryable failure. Default: 5.
	MaxRetries int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             10,
		MaxRetries:        DefaultRetryConfig().MaxRetries,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - DRIVEMOVER_GDRIVE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS: credentials file
//   - DRIVEMOVER_GDRIVE_TOKEN: OAuth2 token file
//   - DRIVEMOVER_GDRIVE_SUBJECT: impersonated user
//   - DRIVEMOVER_GDRIVE_QPS: requests per second
func ConfigFromEnv() Config {
	config := DefaultConfig()

	config.CredentialsFile = os.Getenv("DRIVEMOVER_GDRIVE_CREDENTIALS")
	if config.CredentialsFile == "" {
		config.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	config.TokenFile = os.Getenv("DRIVEMOVER_GDRIVE_TOKEN")
	config.Subject = os.Getenv("DRIVEMOVER_GDRIVE_SUBJECT")
	if v, err := strconv.ParseFloat(os.Getenv("DRIVEMOVER_GDRIVE_QPS"), 64); err == nil && v > 0 {
		config.RequestsPerSecond = v
	}

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.TokenFile != "" && c.CredentialsFile == "" {
		return ErrTokenNeedsCredentials
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("gdrive: requests per second must not be negative: %v", c.RequestsPerSecond)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("gdrive: max retries must not be negative: %d", c.MaxRetries)
	}
	return nil
}

// TokenSource builds the OAuth2 token source described by c.
func (c Config) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	scopes := []string{drive.DriveScope}

	if c.CredentialsFile == "" {
		ts, err := google.DefaultTokenSource(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("gdrive: default credentials: %w", err)
		}
		return ts, nil
	}

	data, err := os.ReadFile(c.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gdrive: reading credentials: %w", err)
	}

	if c.TokenFile != "" {
		oauthCfg, err := google.ConfigFromJSON(data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("gdrive: parsing client secret: %w", err)
		}
		tok, err := readToken(c.TokenFile)
		if err != nil {
			return nil, err
		}
		return oauthCfg.TokenSource(ctx, tok), nil
	}

	jwtCfg, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: parsing service account key: %w", err)
	}
	jwtCfg.Subject = c.Subject
	return jwtCfg.TokenSource(ctx), nil
}
