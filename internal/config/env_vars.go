package config

import (
	"os"
	"strconv"
	"time"
)

type EnvVars struct{}

var _ Config = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv("APP_NAME", "CurioBid Client")
}

func (EnvVars) GetEnv() string {
	return GetEnv("ENV", "development")
}

func (EnvVars) GetBackendURL() string {
	return GetEnv("BACKEND_URL", "")
}

func (EnvVars) GetBackendAPIKey() string {
	return GetEnv("BACKEND_API_KEY", "")
}

func (EnvVars) GetSnapshotDBPath() string {
	return GetEnv("SNAPSHOT_DB_PATH", "data/snapshots.db")
}

func (EnvVars) GetSnapshotDir() string {
	return GetEnv("SNAPSHOT_DIR", "data/snapshots")
}

func (EnvVars) GetSnapshotSecret() string {
	return GetEnv("SNAPSHOT_SECRET", "")
}

func (EnvVars) GetRefreshThreshold() time.Duration {
	return getMinutes("REFRESH_THRESHOLD_MINUTES", 15)
}

func (EnvVars) GetWarningThreshold() time.Duration {
	return getMinutes("WARNING_THRESHOLD_MINUTES", 5)
}

func (EnvVars) GetAutoRefresh() bool {
	v, err := strconv.ParseBool(GetEnv("AUTO_REFRESH", "true"))
	if err != nil {
		return true
	}
	return v
}

func (EnvVars) GetOAuthIssuer() string {
	return GetEnv("OAUTH_ISSUER", "https://accounts.google.com")
}

func (EnvVars) GetOAuthClientID() string {
	return GetEnv("OAUTH_CLIENT_ID", "")
}

func (EnvVars) GetOAuthClientSecret() string {
	return GetEnv("OAUTH_CLIENT_SECRET", "")
}

func (EnvVars) GetOAuthRedirectURL() string {
	return GetEnv("OAUTH_REDIRECT_URL", "http://localhost:8910/callback")
}

func (EnvVars) GetSignInEmail() string {
	return GetEnv("SIGN_IN_EMAIL", "")
}

func (EnvVars) GetSignInPassword() string {
	return GetEnv("SIGN_IN_PASSWORD", "")
}

func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getMinutes(key string, defaultMinutes int) time.Duration {
	minutes, err := strconv.Atoi(GetEnv(key, strconv.Itoa(defaultMinutes)))
	if err != nil || minutes < 0 {
		minutes = defaultMinutes
	}
	return time.Duration(minutes) * time.Minute
}
