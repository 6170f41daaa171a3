package common

import "time"

// Environment variable keys
const (
	EnvConfigFile   = "CONFIG_FILE"
	EnvModelPath    = "MODEL_PATH"
	EnvScalerPath   = "SCALER_PATH"
	EnvMetadataPath = "METADATA_PATH"
	EnvListenHost   = "LISTEN_HOST"
	EnvPort         = "PORT"
	EnvStrictSchema = "STRICT_SCHEMA"
	EnvDataPath     = "DATA_PATH"
	EnvHistoryLimit = "HISTORY_LIMIT"
	EnvHistoryKeep  = "HISTORY_RETAIN"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
	EnvLogFile      = "LOG_FILE"
	EnvReadTimeout  = "READ_TIMEOUT"
	EnvWriteTimeout = "WRITE_TIMEOUT"
	EnvServerURL    = "DROPOUT_SERVER_URL"
	EnvDriftWindow  = "DRIFT_WINDOW"
	EnvDriftThresh  = "DRIFT_THRESHOLD"
)

// Configuration defaults
const (
	DefaultModelPath    = "model/best_model.json"
	DefaultScalerPath   = "model/scaler.json"
	DefaultListenHost   = "127.0.0.1"
	DefaultPort         = 8501
	DefaultHistoryLimit = 50
	DefaultHistoryKeep  = 10000
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultServerURL    = "http://127.0.0.1:8501"
	DefaultDriftWindow  = 500
	DefaultDriftThresh  = 1.0
)

// Artifact file names
const (
	MetadataFileName = "model_metadata.json"
	HistoryDBName    = "predictions.db"
)

// Common error messages
const (
	ErrMsgModelPathRequired  = "model path is required"
	ErrMsgScalerPathRequired = "scaler path is required"
)

// Validation constants
const (
	MinPort         = 1024
	MaxPort         = 65535
	MaxHistoryLimit = 1000
)

// Server timing
const (
	IdleTimeout     = 120 * time.Second
	PredictTimeout  = 5 * time.Second
	ShutdownTimeout = 10 * time.Second
)
