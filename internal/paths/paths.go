package paths

import (
	"os"
	"path/filepath"
)

// Environment variables that override the default file locations. All of
// them are resolved once at startup and passed into constructors; nothing
// below the CLI layer reads the environment.
const (
	ConfigDirEnv       = "GSC_CONFIG_DIR"
	CredentialsFileEnv = "GSC_CREDENTIALS_FILE"
	AppConfigFileEnv   = "GSC_APP_CONFIG_FILE"
)

// ConfigDir returns the directory holding all gsc state
// (~/.config/gsc-cli unless GSC_CONFIG_DIR is set).
func ConfigDir() (string, error) {
	if value := os.Getenv(ConfigDirEnv); value != "" {
		return expandHome(value)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "gsc-cli"), nil
}

// CredentialsFile returns the path of the stored OAuth credential file.
func CredentialsFile() (string, error) {
	if value := os.Getenv(CredentialsFileEnv); value != "" {
		return expandHome(value)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "credentials.json"), nil
}

// AppConfigFile returns the path of the CLI configuration file.
func AppConfigFile() (string, error) {
	if value := os.Getenv(AppConfigFileEnv); value != "" {
		return expandHome(value)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// PresetsDir returns the directory holding saved query presets.
func PresetsDir() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "presets"), nil
}

// CacheDir returns the directory holding the local result cache database.
func CacheDir() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cache"), nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[0] != '~' || path[1] != filepath.Separator {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, path[2:]), nil
}
