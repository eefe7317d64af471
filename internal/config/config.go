package config

import "time"

// Config exposes the client's environment-driven settings.
type Config interface {
	GetAppName() string
	GetEnv() string

	GetBackendURL() string
	GetBackendAPIKey() string

	GetSnapshotDBPath() string
	GetSnapshotDir() string
	GetSnapshotSecret() string

	GetRefreshThreshold() time.Duration
	GetWarningThreshold() time.Duration
	GetAutoRefresh() bool

	GetOAuthIssuer() string
	GetOAuthClientID() string
	GetOAuthClientSecret() string
	GetOAuthRedirectURL() string

	GetSignInEmail() string
	GetSignInPassword() string
}

func New() Config {
	return EnvVars{}
}
