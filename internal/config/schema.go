package config

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	OCR      OCRConfig      `mapstructure:"ocr" yaml:"ocr"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	PubMed   PubMedConfig   `mapstructure:"pubmed" yaml:"pubmed"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// LLMConfig configures the completion service client.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model          string `mapstructure:"model" yaml:"model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// OCRConfig configures the text extraction binaries and limits.
type OCRConfig struct {
	Tesseract string `mapstructure:"tesseract" yaml:"tesseract"`
	Pdftoppm  string `mapstructure:"pdftoppm" yaml:"pdftoppm"`
	Lang      string `mapstructure:"lang" yaml:"lang"`
	DPI       int    `mapstructure:"dpi" yaml:"dpi"`
	RetryDPI  int    `mapstructure:"retry_dpi" yaml:"retry_dpi"`
	MaxPages  int    `mapstructure:"max_pages" yaml:"max_pages"`
}

// StoreConfig selects the optional state store tiers. Memory and file tiers
// are always on.
type StoreConfig struct {
	RedisAddr   string `mapstructure:"redis_addr" yaml:"redis_addr"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"` // supports ${ENV_VAR} syntax
}

// PubMedConfig configures reference retrieval.
type PubMedConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxResults     int    `mapstructure:"max_results" yaml:"max_results"`
	CacheTTLHours  int    `mapstructure:"cache_ttl_hours" yaml:"cache_ttl_hours"`
	MaxReferences  int    `mapstructure:"max_references" yaml:"max_references"`
}

// PipelineConfig controls the worker pool and staleness monitor.
type PipelineConfig struct {
	Workers           int `mapstructure:"workers" yaml:"workers"`
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" yaml:"job_timeout_seconds"`
	StaleAfterSeconds int `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
}

// PostgresConfig describes the managed Postgres container.
type PostgresConfig struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	Port          string `mapstructure:"port" yaml:"port"`
	Password      string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	Database      string `mapstructure:"database" yaml:"database"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		LLM: LLMConfig{
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "gpt-4.1",
			TimeoutSeconds: 60,
			MaxRetries:     2,
		},
		OCR: OCRConfig{
			Tesseract: "tesseract",
			Pdftoppm:  "pdftoppm",
			Lang:      "eng",
			DPI:       220,
			RetryDPI:  300,
			MaxPages:  12,
		},
		PubMed: PubMedConfig{
			BaseURL:        "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			TimeoutSeconds: 8,
			MaxResults:     10,
			CacheTTLHours:  168,
			MaxReferences:  18,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			QueueSize:         256,
			JobTimeoutSeconds: 600,
			StaleAfterSeconds: 90,
		},
		Postgres: PostgresConfig{
			ContainerName: "clincite-postgres",
			Image:         "postgres:16-alpine",
			Port:          "55432",
			Password:      "${CLINCITE_PG_PASSWORD}",
			Database:      "clincite",
		},
	}
}
