package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultAppName names the per-user directories used by the payment client
const DefaultAppName = "x402-pay"

type AppPaths struct {
	ConfigDir string
	LogDir    string
	DataDir   string
}

// GetAppPaths resolves (and creates) the config, log and data directories.
// X402_PAY_HOME pins all three to a single directory (tests, containers).
func GetAppPaths(appName string) *AppPaths {
	if appName == "" {
		appName = DefaultAppName
	}

	if home := os.Getenv("X402_PAY_HOME"); home != "" {
		return ensurePaths(&AppPaths{ConfigDir: home, LogDir: home, DataDir: home})
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeDir, err = os.Getwd(); err != nil {
			homeDir = "."
		}
	}

	paths := &AppPaths{}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		dir := filepath.Join(appData, appName)
		paths.ConfigDir, paths.LogDir, paths.DataDir = dir, dir, dir

	case "darwin":
		dir := filepath.Join(homeDir, "Library", "Application Support", appName)
		paths.ConfigDir = dir
		paths.DataDir = dir
		paths.LogDir = filepath.Join(homeDir, "Library", "Logs", appName)

	case "linux":
		// XDG Base Directory layout
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(homeDir, ".config")
		}
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}

		paths.ConfigDir = filepath.Join(configHome, appName)
		paths.DataDir = filepath.Join(dataHome, appName)
		paths.LogDir = filepath.Join(cacheHome, appName, "logs")

	default:
		dir := filepath.Join(homeDir, "."+appName)
		paths.ConfigDir, paths.LogDir, paths.DataDir = dir, dir, dir
	}

	return ensurePaths(paths)
}

func ensurePaths(paths *AppPaths) *AppPaths {
	for _, dir := range []string{paths.ConfigDir, paths.LogDir, paths.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			// Fall back to the working directory if we can't create it
			paths.ConfigDir, paths.LogDir, paths.DataDir = ".", ".", "."
			break
		}
	}
	return paths
}

// GetDataPath returns the path to a data file
func (ap *AppPaths) GetDataPath(filename string) string {
	return filepath.Join(ap.DataDir, filename)
}

// GetConfigPath returns the path to a config file
func (ap *AppPaths) GetConfigPath(filename string) string {
	return filepath.Join(ap.ConfigDir, filename)
}
