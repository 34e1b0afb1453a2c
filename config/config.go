package config

import (
	"os"
	"path/filepath"
)

const Version = "0.3.0"

const (
	// Environment overrides. Flags on the command line win over these.
	EnvDatabasePath = "DOCKEROPS_DB_PATH"
	EnvSecretsPath  = "DOCKEROPS_SECRETS_PATH"

	StateDirName     = ".dockerops"
	DatabaseFileName = "dockerops.db"
	LockFileName     = "dockerops.lock"

	DefaultSecretsPath = "/var/lib/dockerops/secrets"

	// Upper bound on concurrent registry digest checks during the sweep
	// phase. Everything else in a pass is sequential.
	DefaultDigestWorkers = 4
)

// DatabasePath returns the path of the SQLite state store, honoring the
// DOCKEROPS_DB_PATH override.
func DatabasePath() string {
	if p := os.Getenv(EnvDatabasePath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, StateDirName, DatabaseFileName)
}

// SecretsPath returns the root of the secret store, honoring the
// DOCKEROPS_SECRETS_PATH override.
func SecretsPath() string {
	if p := os.Getenv(EnvSecretsPath); p != "" {
		return p
	}
	return DefaultSecretsPath
}
