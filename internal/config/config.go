// Package config loads Mira's runtime configuration from the environment,
// an optional .env file, and an optional YAML project overlay, following
// the teacher's env-var-with-defaults loader style.
package config

import "time"

// EmbeddingConfig configures the C1 Embedding Client.
type EmbeddingConfig struct {
	Provider       string // "openai" | "google"
	Model          string
	Dimensions     int // validated on first call; 0 means "infer from model"
	APIKey         string
	BaseURL        string
	ProjectID      string
	Timeout        time.Duration
	MaxAttempts    int
	BatchSize      int // hard cap per provider call, default 100
	MinEmbedScore  float32
	SemanticThresh float32
}

// DBConfig selects and configures the relational + vector backends.
type DBConfig struct {
	RelationalDSN string // postgres DSN; empty selects the in-memory backend
	VectorBackend string // "qdrant" | "memory"
	QdrantDSN     string
	VectorMetric  string // "cosine" | "l2" | "ip"
	RedisAddr     string // optional Redis front-cache for session state
	KafkaBrokers  []string
	KafkaTopic    string // reconciler sweep events
}

// ObjectStoreConfig selects the artifact/upload backend.
type ObjectStoreConfig struct {
	Backend string // "memory" | "s3"
	Bucket  string
	Region  string
}

// S3SSEConfig configures server-side encryption for the S3 object store
// backend.
type S3SSEConfig struct {
	Mode     string // "", "sse-s3", "sse-kms"
	KMSKeyID string
}

// S3Config configures objectstore.NewS3Store.
type S3Config struct {
	Bucket                string
	Region                string
	Prefix                string
	Endpoint              string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// BudgetConfig carries the spend caps of spec.md §6.4.
type BudgetConfig struct {
	DailyUSD   float64
	MonthlyUSD float64
}

// TransportConfig carries the heartbeat/timeout knobs of spec.md §5/§6.4.
type TransportConfig struct {
	MaxUploadBytes      int64
	HeartbeatIdle       time.Duration
	HeartbeatActive     time.Duration
	HeartbeatProcessing time.Duration
	ConnectionTimeout   time.Duration
}

// ObsConfig configures OpenTelemetry tracing and metrics export.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string // collector endpoint host:port; empty disables OTel entirely
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Embedding       EmbeddingConfig
	DB              DBConfig
	ObjectStore     ObjectStoreConfig
	Budget          BudgetConfig
	Transport       TransportConfig
	Obs             ObsConfig
	LogPath         string
	LogLevel        string
	SessionMaxAge   time.Duration // C9/C11 prefix-cache eviction ceiling, default 24h
	ReasoningEffort string
	Verbosity       string
}

// Defaults returns a Config populated with the values spec.md §6.4 names
// explicitly as defaults.
func Defaults() Config {
	return Config{
		Embedding: EmbeddingConfig{
			Provider:       "openai",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			BatchSize:      100,
			MinEmbedScore:  0.2,
			SemanticThresh: 0.3,
		},
		DB: DBConfig{
			VectorBackend: "memory",
			VectorMetric:  "cosine",
		},
		ObjectStore: ObjectStoreConfig{Backend: "memory"},
		Budget:      BudgetConfig{DailyUSD: 0, MonthlyUSD: 0},
		Transport: TransportConfig{
			MaxUploadBytes:      500 * 1024 * 1024,
			HeartbeatIdle:       25 * time.Second,
			HeartbeatActive:     10 * time.Second,
			HeartbeatProcessing: 5 * time.Second,
			ConnectionTimeout:   120 * time.Second,
		},
		Obs: ObsConfig{
			ServiceName: "mirad",
		},
		LogLevel:      "info",
		SessionMaxAge: 24 * time.Hour,
	}
}
