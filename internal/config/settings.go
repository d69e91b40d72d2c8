package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configDirName is the per-user and per-project config directory.
const configDirName = ".shellai"

// configFileName is the config file inside configDirName.
const configFileName = "config.yaml"

type configSource struct {
	Source string
	Path   string
}

// HomeDir returns ~/.shellai, where user config, logs and transcripts live.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// UserConfigPath returns the default user config path.
func UserConfigPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// configSources resolves the user and project config files in merge order.
// The project file is skipped when it is the user file.
func configSources(cwd string) ([]configSource, error) {
	userPath, err := UserConfigPath()
	if err != nil {
		return nil, err
	}
	sources := []configSource{{Source: "user", Path: userPath}}

	projectPath := filepath.Join(findProjectRoot(cwd), configDirName, configFileName)
	if projectPath != userPath {
		sources = append(sources, configSource{Source: "project", Path: projectPath})
	}
	return sources, nil
}

// findProjectRoot locates the nearest parent directory containing .git.
func findProjectRoot(cwd string) string {
	current := filepath.Clean(cwd)
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			// If no repository root is found, fall back to the current directory.
			return cwd
		}
		current = parent
	}
}
