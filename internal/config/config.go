package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	AegisEnv    string
	APIKey      string

	WorkDir              string
	ContractsDir         string
	StagesFile           string
	ToolTimeoutSeconds   int
	StoreTimeoutSeconds  int
	LedgerTimeoutSeconds int
	MaxContractKB        int
	MaxStdoutKB          int

	TopicAnalysis    string
	TopicRemediation string

	ArtifactBackend string
	ArtifactDir     string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioRegion     string
	MinioUseSSL     bool

	PolicyPath string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		AegisEnv:               os.Getenv("AEGIS_ENV"),
		APIKey:                 os.Getenv("API_KEY"),
		WorkDir:                envDefault("WORK_DIR", os.TempDir()),
		ContractsDir:           envDefault("CONTRACTS_DIR", "contracts"),
		StagesFile:             os.Getenv("STAGES_FILE"),
		ToolTimeoutSeconds:     envIntDefault("TOOL_TIMEOUT_SECONDS", 120),
		StoreTimeoutSeconds:    envIntDefault("STORE_TIMEOUT_SECONDS", 30),
		LedgerTimeoutSeconds:   envIntDefault("LEDGER_TIMEOUT_SECONDS", 30),
		MaxContractKB:          envIntDefault("MAX_CONTRACT_KB", 1024),
		MaxStdoutKB:            envIntDefault("MAX_STDOUT_KB", 8192),
		TopicAnalysis:          envDefault("TOPIC_ANALYSIS", "analysis"),
		TopicRemediation:       envDefault("TOPIC_REMEDIATION", "remediation"),
		ArtifactBackend:        envDefault("ARTIFACT_BACKEND", "fs"),
		ArtifactDir:            envDefault("ARTIFACT_DIR", "artifacts"),
		MinioEndpoint:          os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:         os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:         os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:            envDefault("MINIO_BUCKET", "aegis-artifacts"),
		MinioRegion:            os.Getenv("MINIO_REGION"),
		MinioUseSSL:            envBoolDefault("MINIO_USE_SSL", false),
		PolicyPath:             os.Getenv("POLICY_PATH"),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutSeconds) * time.Second
}

func (c Config) MaxContractBytes() int64 {
	return int64(c.MaxContractKB) * 1024
}

func (c Config) MaxStdoutBytes() int64 {
	return int64(c.MaxStdoutKB) * 1024
}
