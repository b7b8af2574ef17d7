// Package config loads the manager's configuration from an optional
// on-disk YAML file plus environment variable overrides, the way the
// teacher's own internal/config package loads sandkasten.yaml plus env
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// StorageProvider selects which object-store backend the Cloud Object
// Store Adapter (C3) talks to. All providers speak the S3 API through the
// same client; only endpoint/credential wiring differs.
type StorageProvider string

const (
	ProviderMinio StorageProvider = "minio"
	ProviderS3    StorageProvider = "s3"
	ProviderAzure StorageProvider = "azure"
	ProviderGCS   StorageProvider = "gcs"
)

// Storage holds the object-store connection parameters (§6 "Storage").
type Storage struct {
	Provider  StorageProvider
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Azure/GCS credential variants, used when Provider selects them and
	// the endpoint is an S3-compatible gateway in front of that backend.
	AzureAccount   string
	AzureAccessKey string
	GCSHMACKeyID   string
	GCSHMACSecret  string
}

// IDE holds the IDE Supervisor's (C7) configuration.
type IDE struct {
	BasePort        int
	MaxInstances    int
	ExternalURLBase string
	BinaryPath      string
	UserDataBase    string
	ExtensionsBase  string
	StartupTimeout  int // seconds
	LockdownEnabled bool
}

// Agent holds the agent-invocation configuration (§6 "Agent").
type Agent struct {
	Path         string
	DefaultModel string
	OllamaHost   string
	APIEndpoint  string
}

// Config is the manager's top-level configuration, populated from
// environment variables per spec.md §6.
type Config struct {
	Port               int
	InternalAPIKey     string
	MaxSessionsPerUser int
	SessionIdleTimeout int // seconds
	SessionMaxLifetime int // seconds
	MaxWorkspaceSizeMB int64
	WorkspacesPath     string

	Agent   Agent
	IDE     IDE
	Storage Storage

	SandboxEnabled bool
	SandboxMinUID  int
	SandboxMaxUID  int
	SandboxHomeDir string

	DBPath      string
	LogLevel    string
	MetricsAddr string
}

// fileConfig is the shape of the optional on-disk manager config file
// (YAML), covering the fields operators most often pin per-deployment
// rather than pass as env vars. Any field env vars are always free to
// override; a field the file omits keeps its hardcoded default.
type fileConfig struct {
	Port               int    `yaml:"port"`
	InternalAPIKey     string `yaml:"internalApiKey"`
	MaxSessionsPerUser int    `yaml:"maxSessionsPerUser"`
	MaxWorkspaceSizeMB string `yaml:"maxWorkspaceSizeMB"`
	WorkspacesPath     string `yaml:"workspacesPath"`
	LogLevel           string `yaml:"logLevel"`
	MetricsAddr        string `yaml:"metricsAddr"`
	DBPath             string `yaml:"dbPath"`

	Agent struct {
		Path         string `yaml:"path"`
		DefaultModel string `yaml:"defaultModel"`
		OllamaHost   string `yaml:"ollamaHost"`
	} `yaml:"agent"`

	Storage struct {
		Provider string `yaml:"provider"`
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
	} `yaml:"storage"`
}

// loadFileConfig reads the optional YAML config file at path. A missing
// file is not an error — the manager runs fine on env vars and hardcoded
// defaults alone, the file only narrows what those defaults are.
func loadFileConfig(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return fc, nil
}

// Load populates Config from the optional on-disk YAML file named by
// AGENTICODED_CONFIG_FILE (default "agenticoded.yaml", silently skipped
// if absent) and then environment variables, applying the defaults
// documented in spec.md §6. Precedence: env var > config file > hardcoded
// default.
func Load() (*Config, error) {
	fc, err := loadFileConfig(envStr("AGENTICODED_CONFIG_FILE", "agenticoded.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               envInt("PORT", orInt(fc.Port, 3050)),
		InternalAPIKey:     firstNonEmpty(os.Getenv("INTERNAL_API_KEY"), fc.InternalAPIKey),
		MaxSessionsPerUser: envInt("MAX_SESSIONS_PER_USER", orInt(fc.MaxSessionsPerUser, 3)),
		SessionIdleTimeout: envInt("SESSION_IDLE_TIMEOUT", 1800),
		SessionMaxLifetime: envInt("SESSION_MAX_LIFETIME", 14400),
		MaxWorkspaceSizeMB: envSizeMB("MAX_WORKSPACE_SIZE_MB", orSizeMB(fc.MaxWorkspaceSizeMB, 5120)),
		WorkspacesPath:     envStr("WORKSPACES_PATH", orStr(fc.WorkspacesPath, "/workspaces")),

		Agent: Agent{
			Path:         envStr("AGENTICODE_PATH", orStr(fc.Agent.Path, "agenticode")),
			DefaultModel: firstNonEmpty(os.Getenv("AGENTICODE_MODEL"), os.Getenv("DEFAULT_MODEL"), fc.Agent.DefaultModel, "llama3"),
			OllamaHost:   envStr("OLLAMA_HOST", orStr(fc.Agent.OllamaHost, "http://127.0.0.1:11434")),
			APIEndpoint:  os.Getenv("AGENTICWORK_API_ENDPOINT"),
		},

		IDE: IDE{
			BasePort:        envInt("IDE_BASE_PORT", 3100),
			MaxInstances:    envInt("IDE_MAX_INSTANCES", 100),
			ExternalURLBase: os.Getenv("IDE_EXTERNAL_URL_BASE"),
			BinaryPath:      envStr("IDE_BINARY_PATH", "code-server"),
			UserDataBase:    envStr("IDE_USER_DATA_DIR", "/var/lib/agenticoded/ide-data"),
			ExtensionsBase:  envStr("IDE_EXTENSIONS_DIR", "/var/lib/agenticoded/ide-extensions"),
			StartupTimeout:  envInt("IDE_STARTUP_TIMEOUT_SECONDS", 30),
			LockdownEnabled: envBool("IDE_LOCKDOWN", true),
		},

		Storage: Storage{
			Provider:       StorageProvider(envStr("STORAGE_PROVIDER", orStr(fc.Storage.Provider, string(ProviderMinio)))),
			Bucket:         envStr("STORAGE_BUCKET", orStr(fc.Storage.Bucket, "agenticode-workspaces")),
			Endpoint:       os.Getenv("STORAGE_ENDPOINT"),
			Region:         envStr("STORAGE_REGION", orStr(fc.Storage.Region, "us-east-1")),
			AccessKey:      os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:      os.Getenv("STORAGE_SECRET_KEY"),
			UseSSL:         envBool("STORAGE_USE_SSL", false),
			AzureAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
			AzureAccessKey: os.Getenv("AZURE_STORAGE_ACCESS_KEY"),
			GCSHMACKeyID:   os.Getenv("GCS_HMAC_KEY_ID"),
			GCSHMACSecret:  os.Getenv("GCS_HMAC_SECRET"),
		},

		SandboxEnabled: envBool("SANDBOX_ENABLED", true),
		SandboxMinUID:  envInt("SANDBOX_MIN_UID", 10000),
		SandboxMaxUID:  envInt("SANDBOX_MAX_UID", 60000),
		SandboxHomeDir: envStr("SANDBOX_HOME_BASE", "/home/agenticode-sandboxes"),

		DBPath:      envStr("AGENTICODED_DB_PATH", orStr(fc.DBPath, "./agenticoded.db")),
		LogLevel:    envStr("AGENTICODED_LOG_LEVEL", orStr(fc.LogLevel, "info")),
		MetricsAddr: envStr("METRICS_ADDR", fc.MetricsAddr),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.SandboxMinUID >= c.SandboxMaxUID {
		return fmt.Errorf("SANDBOX_MIN_UID must be less than SANDBOX_MAX_UID")
	}
	if c.IDE.BasePort <= 0 || c.IDE.BasePort > 65535 {
		return fmt.Errorf("invalid IDE_BASE_PORT: %d", c.IDE.BasePort)
	}
	if c.IDE.MaxInstances <= 0 {
		return fmt.Errorf("IDE_MAX_INSTANCES must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envSizeMB reads a byte-size env var expressed either as a plain integer
// of megabytes, or as a human-readable size ("5GB", "512MiB") parsed via
// go-units, and returns the value in megabytes.
func envSizeMB(key string, defMB int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defMB
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	bytes, err := units.RAMInBytes(v)
	if err != nil {
		return defMB
	}
	return bytes / (1024 * 1024)
}

func orStr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// orSizeMB resolves a config-file size string (plain MB integer or a
// go-units human size like "5GB") to megabytes, falling back to defMB
// when v is empty or unparseable.
func orSizeMB(v string, defMB int64) int64 {
	if v == "" {
		return defMB
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if bytes, err := units.RAMInBytes(v); err == nil {
		return bytes / (1024 * 1024)
	}
	return defMB
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
