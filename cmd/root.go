package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dockerops/dockerops/config"
	"github.com/dockerops/dockerops/db"
	"github.com/dockerops/dockerops/lib"
)

var (
	dbPath      string
	secretsPath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "dockerops",
	Short: "Synchronize docker swarm stacks from a declarative source tree",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		lib.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the state store (default "+filepath.Join("$HOME", config.StateDirName, config.DatabaseFileName)+")")
	rootCmd.PersistentFlags().StringVar(&secretsPath, "secrets", "", "root of the secret store (default "+config.DefaultSecretsPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func EntryPoint() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens (and if needed initializes) the state store, creating
// its parent directory on first use.
func openStore() (*db.Store, string, error) {
	path := dbPath
	if path == "" {
		path = config.DatabasePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, "", err
	}
	store := &db.Store{}
	if err := store.Init(path); err != nil {
		return nil, "", err
	}
	return store, path, nil
}

func newEngine() (*lib.Engine, error) {
	store, path, err := openStore()
	if err != nil {
		return nil, err
	}
	runtime, err := lib.NewDockerClient()
	if err != nil {
		store.Close()
		return nil, err
	}
	secrets := secretsPath
	if secrets == "" {
		secrets = config.SecretsPath()
	}
	return &lib.Engine{
		Store:         store,
		Fetcher:       lib.NewGitFetcher(),
		Runtime:       runtime,
		Registry:      lib.NewContainerRegistry(),
		Secrets:       lib.NewDirSecretStore(secrets),
		LockPath:      filepath.Join(filepath.Dir(path), config.LockFileName),
		DigestWorkers: config.DefaultDigestWorkers,
	}, nil
}
