package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIKeyPath = "/run/secrets/api_keys/openrouter"
	APIKeyPathEnvVar  = "OPENROUTER_API_KEY_FILE"
	EnvFileEnvVar     = "SCREEN_SOLVER_LLM"
)

type LoadOptions struct {
	APIKeyPathOverride string
}

type Config struct {
	APIKey            string
	APIKeyPath        string
	Model             string
	ExtractModel      string
	Language          string
	Providers         []string
	EnableFileLogging bool
	CaptureHotkey     string
	ProcessHotkey     string
	ResetHotkey       string
	ToggleHotkey      string
	APIDeadlineSec    int
	MainQueueLimit    int
	ExtraQueueLimit   int
	AutoCopySolution  bool
	ScreenshotDir     string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) .env in the application (executable) directory
	// 2) If not found, use SCREEN_SOLVER_LLM env var as a path to a config file
	envPath := resolveEnvPath()
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	// Parse providers from comma-separated string
	var providers []string
	if providersStr := os.Getenv("PROVIDERS"); providersStr != "" {
		for _, provider := range strings.Split(providersStr, ",") {
			if trimmed := strings.TrimSpace(provider); trimmed != "" {
				providers = append(providers, trimmed)
			}
		}
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		APIKey:            resolveAPIKey(apiKeyPath),
		APIKeyPath:        apiKeyPath,
		Model:             os.Getenv("MODEL"),
		ExtractModel:      os.Getenv("EXTRACT_MODEL"),
		Language:          getEnvWithDefault("SOLUTION_LANGUAGE", "python"),
		Providers:         providers,
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		CaptureHotkey:     getEnvWithDefault("HOTKEY_CAPTURE", "Ctrl+Alt+H"),
		ProcessHotkey:     getEnvWithDefault("HOTKEY_PROCESS", "Ctrl+Alt+Enter"),
		ResetHotkey:       getEnvWithDefault("HOTKEY_RESET", "Ctrl+Alt+R"),
		ToggleHotkey:      getEnvWithDefault("HOTKEY_TOGGLE", "Ctrl+Alt+B"),
		APIDeadlineSec:    getEnvInt("API_DEADLINE_SEC", 60),
		MainQueueLimit:    getEnvInt("MAIN_QUEUE_LIMIT", 5),
		ExtraQueueLimit:   getEnvInt("EXTRA_QUEUE_LIMIT", 2),
		AutoCopySolution:  strings.ToLower(os.Getenv("AUTO_COPY_SOLUTION")) == "true",
		ScreenshotDir:     os.Getenv("SCREENSHOT_DIR"),
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}

	execDir := filepath.Dir(execPath)
	exeEnv := filepath.Join(execDir, ".env")
	if _, err := os.Stat(exeEnv); err == nil {
		return exeEnv
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := DefaultAPIKeyPath

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if data, err := os.ReadFile(keyPath); err == nil {
		if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
			return fileKey
		}
	}

	return os.Getenv("OPENROUTER_API_KEY")
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
