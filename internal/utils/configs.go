package utils

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//go:embed configs
var defaultConfig embed.FS

type Config map[string]string

type ConfigManager struct {
	configsPath string
	configs     Config
	configMutex sync.RWMutex
}

// envOverrides maps environment variables (also read from .env) to config keys.
// Names follow the merchant demo's .env file.
var envOverrides = map[string]string{
	"FACILITATOR_BASE_URL": "facilitator_base_url",
	"MERCHANT_CONFIG_URL":  "merchant_config_url",
	"RESOURCE_URL":         "resource_url",
	"REDIS_URL":            "redis_url",
	"WALLET_EVENT_URL":     "wallet_event_url",
	"X402_LOG_LEVEL":       "log_level",
}

func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		paths := GetAppPaths("")
		path = filepath.Join(paths.ConfigDir, "configs")
		if err := ensureConfig(path); err != nil {
			panic(err)
		}
	}

	configs, err := readConfigs(path)
	if err != nil {
		panic(err)
	}

	return &ConfigManager{
		configsPath: path,
		configs:     configs,
	}
}

// NewConfigManagerFromMap builds a config manager that is not backed by a file.
// Defaults from the embedded config are applied first.
func NewConfigManagerFromMap(values map[string]string) *ConfigManager {
	configs := Config{}
	if data, err := defaultConfig.ReadFile("configs/configs"); err == nil {
		if parsed, err := parseConfigs(strings.NewReader(string(data))); err == nil {
			configs = parsed
		}
	}
	maps.Copy(configs, values)

	return &ConfigManager{configs: configs}
}

func ensureConfig(configPath string) error {
	// If config doesn't exist, create it from embedded default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := defaultConfig.ReadFile("configs/configs")
		if err != nil {
			return err
		}

		return os.WriteFile(configPath, data, 0644)
	}

	return nil
}

func readConfigs(configsPath string) (Config, error) {
	if len(configsPath) == 0 {
		return nil, fmt.Errorf("invalid configs path `%s`", configsPath)
	}

	file, err := os.Open(configsPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config, err := parseConfigs(file)
	if err != nil {
		return nil, err
	}
	config["file"] = configsPath

	return config, nil
}

func parseConfigs(r io.Reader) (Config, error) {
	config := Config{}
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if equal := strings.Index(trimmed, "="); equal >= 0 {
				if key := strings.TrimSpace(trimmed[:equal]); len(key) > 0 {
					config[key] = strings.TrimSpace(trimmed[equal+1:])
				}
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return config, nil
}

// LoadEnvOverrides applies values from the process environment and, if present,
// from envFile (dotenv format). Process environment wins over the file.
func (cm *ConfigManager) LoadEnvOverrides(envFile string) error {
	fileValues := map[string]string{}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			values, err := godotenv.Read(envFile)
			if err != nil {
				return fmt.Errorf("failed to read env file %s: %w", envFile, err)
			}
			fileValues = values
		}
	}

	for envKey, configKey := range envOverrides {
		if value, ok := os.LookupEnv(envKey); ok && value != "" {
			cm.SetConfig(configKey, value)
			continue
		}
		if value, ok := fileValues[envKey]; ok && value != "" {
			cm.SetConfig(configKey, value)
		}
	}

	return nil
}

func (cm *ConfigManager) GetConfig(key string) (string, bool) {
	cm.configMutex.RLock()
	defer cm.configMutex.RUnlock()

	value, exists := cm.configs[key]
	return value, exists
}

func (cm *ConfigManager) GetConfigWithDefault(key string, defaultValue string) string {
	if value, exists := cm.GetConfig(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func (cm *ConfigManager) GetAllConfigs() Config {
	cm.configMutex.RLock()
	defer cm.configMutex.RUnlock()

	configsCopy := make(Config)
	maps.Copy(configsCopy, cm.configs)
	return configsCopy
}

// GetConfigDuration parses a duration string from config with default fallback
func (cm *ConfigManager) GetConfigDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := cm.GetConfigWithDefault(key, defaultValue.String())
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		fmt.Printf("Invalid duration '%s' for key '%s', using default %v\n", valueStr, key, defaultValue)
		return defaultValue
	}
	return duration
}

// GetConfigInt parses an integer from config with validation
func (cm *ConfigManager) GetConfigInt(key string, defaultValue int, min int, max int) int {
	valueStr := cm.GetConfigWithDefault(key, strconv.Itoa(defaultValue))
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		fmt.Printf("Invalid integer '%s' for key '%s', using default %d\n", valueStr, key, defaultValue)
		return defaultValue
	}
	if value < min || value > max {
		fmt.Printf("Value %d for key '%s' out of range [%d, %d], using default %d\n", value, key, min, max, defaultValue)
		return defaultValue
	}
	return value
}

// GetConfigBool parses a boolean from config with default fallback
func (cm *ConfigManager) GetConfigBool(key string, defaultValue bool) bool {
	valueStr := cm.GetConfigWithDefault(key, strconv.FormatBool(defaultValue))

	switch strings.ToLower(strings.TrimSpace(valueStr)) {
	case "true", "yes", "1", "on", "enabled":
		return true
	case "false", "no", "0", "off", "disabled":
		return false
	default:
		fmt.Printf("Invalid boolean '%s' for key '%s', using default %v\n", valueStr, key, defaultValue)
		return defaultValue
	}
}

// SetConfig sets a configuration value at runtime
func (cm *ConfigManager) SetConfig(key string, value interface{}) {
	cm.configMutex.Lock()
	defer cm.configMutex.Unlock()

	var strValue string
	switch v := value.(type) {
	case string:
		strValue = v
	case bool:
		strValue = strconv.FormatBool(v)
	case int:
		strValue = strconv.Itoa(v)
	case int64:
		strValue = strconv.FormatInt(v, 10)
	default:
		strValue = fmt.Sprintf("%v", v)
	}

	cm.configs[key] = strValue
}

// Save writes the current values back to the backing config file
func (cm *ConfigManager) Save() error {
	if cm.configsPath == "" {
		return fmt.Errorf("config manager has no backing file")
	}

	all := cm.GetAllConfigs()
	delete(all, "file")

	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s = %s\n", key, all[key])
	}

	return os.WriteFile(cm.configsPath, []byte(b.String()), 0644)
}
