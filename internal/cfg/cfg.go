package cfg

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"dropout-risk/internal/common"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath      string
	ScalerPath     string
	MetadataPath   string
	ListenHost     string
	Port           int
	StrictSchema   bool
	DataPath       string
	HistoryLimit   int
	HistoryRetain  int // 0 keeps every record
	DriftWindow    int
	DriftThreshold float64
	LogLevel       string
	LogFormat      string
	LogFile        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type ConfigFile struct {
	Model struct {
		ModelPath    string `yaml:"modelPath"`
		ScalerPath   string `yaml:"scalerPath"`
		MetadataPath string `yaml:"metadataPath"`
		StrictSchema bool   `yaml:"strictSchema"`
	} `yaml:"model"`

	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
	} `yaml:"server"`

	History struct {
		DataPath string `yaml:"dataPath"`
		Limit    int    `yaml:"limit"`
		Retain   *int   `yaml:"retain"`
	} `yaml:"history"`

	Drift struct {
		Window    int     `yaml:"window"`
		Threshold float64 `yaml:"threshold"`
	} `yaml:"drift"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// Addr returns the host:port the form server listens on.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.ListenHost, strconv.Itoa(s.Port))
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := time.ParseDuration(config.Server.ReadTimeout)
	if err != nil {
		readTimeout = 10 * time.Second
	}

	writeTimeout, err := time.ParseDuration(config.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 10 * time.Second
	}

	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.ModelPath, common.DefaultModelPath)),
		ScalerPath:     getEnvOrDefault(common.EnvScalerPath, orDefault(config.Model.ScalerPath, common.DefaultScalerPath)),
		MetadataPath:   getEnvOrDefault(common.EnvMetadataPath, config.Model.MetadataPath),
		ListenHost:     getEnvOrDefault(common.EnvListenHost, orDefault(config.Server.Host, common.DefaultListenHost)),
		Port:           getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		StrictSchema:   getBoolFromEnvOrConfig(common.EnvStrictSchema, config.Model.StrictSchema),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.History.DataPath),
		HistoryLimit:   getIntFromEnvOrConfig(common.EnvHistoryLimit, config.History.Limit, common.DefaultHistoryLimit),
		HistoryRetain:  getIntOrDefault(common.EnvHistoryKeep, retainOrDefault(config.History.Retain)),
		DriftWindow:    getIntFromEnvOrConfig(common.EnvDriftWindow, config.Drift.Window, common.DefaultDriftWindow),
		DriftThreshold: getFloatFromEnvOrConfig(common.EnvDriftThresh, config.Drift.Threshold, common.DefaultDriftThresh),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
		LogFormat:      getEnvOrDefault(common.EnvLogFormat, orDefault(config.Log.Format, common.DefaultLogFormat)),
		LogFile:        getEnvOrDefault(common.EnvLogFile, config.Log.File),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:      getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ScalerPath:     getEnvOrDefault(common.EnvScalerPath, common.DefaultScalerPath),
		MetadataPath:   os.Getenv(common.EnvMetadataPath), // optional
		ListenHost:     getEnvOrDefault(common.EnvListenHost, common.DefaultListenHost),
		Port:           getIntOrDefault(common.EnvPort, common.DefaultPort),
		StrictSchema:   getBoolOrDefault(common.EnvStrictSchema, false),
		DataPath:       os.Getenv(common.EnvDataPath), // optional
		HistoryLimit:   getIntOrDefault(common.EnvHistoryLimit, common.DefaultHistoryLimit),
		HistoryRetain:  getIntOrDefault(common.EnvHistoryKeep, common.DefaultHistoryKeep),
		DriftWindow:    getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftThreshold: getFloatFromEnvOrConfig(common.EnvDriftThresh, 0, common.DefaultDriftThresh),
		LogLevel:       getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:      getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		LogFile:        os.Getenv(common.EnvLogFile), // optional
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, 10*time.Second),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// retainOrDefault lets a config file set retain: 0 to keep every record.
func retainOrDefault(v *int) int {
	if v == nil {
		return common.DefaultHistoryKeep
	}
	return *v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings checks paths, ports and timeouts
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return errors.New(common.ErrMsgModelPathRequired)
	}
	if settings.ScalerPath == "" {
		return errors.New(common.ErrMsgScalerPathRequired)
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}

	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 5m, got %v", settings.WriteTimeout)
	}

	if settings.HistoryLimit <= 0 || settings.HistoryLimit > common.MaxHistoryLimit {
		return fmt.Errorf("history limit must be between 1 and %d, got %d", common.MaxHistoryLimit, settings.HistoryLimit)
	}

	if settings.HistoryRetain < 0 || (settings.HistoryRetain > 0 && settings.HistoryRetain < settings.HistoryLimit) {
		return fmt.Errorf("history retain must be 0 or at least the history limit (%d), got %d", settings.HistoryLimit, settings.HistoryRetain)
	}

	if settings.DriftWindow <= 0 {
		return fmt.Errorf("drift window must be positive, got %d", settings.DriftWindow)
	}
	if settings.DriftThreshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %v", settings.DriftThreshold)
	}

	switch settings.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", settings.LogFormat)
	}

	return nil
}
