package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures all runtime options for the query generation harness.
type Config struct {
	Seed          int64            `yaml:"seed"`
	Cycles        int              `yaml:"cycles"`
	SchemaPath    string           `yaml:"schema_path"`
	TemplatesPath string           `yaml:"templates_path"`
	Generation    GenerationConfig `yaml:"generation"`
	Reference     ReferenceConfig  `yaml:"reference"`
	Analytical    AnalyticalConfig `yaml:"analytical"`
	Engine        EngineConfig     `yaml:"engine"`
	Logging       Logging          `yaml:"logging"`
	Report        ReportConfig     `yaml:"report"`
	Storage       StorageConfig    `yaml:"storage"`
}

// GenerationConfig controls candidate query synthesis.
type GenerationConfig struct {
	BatchSize     int    `yaml:"batch_size"`
	MaxPredicates int    `yaml:"max_predicates"`
	MaxInValues   int    `yaml:"max_in_values"`
	QueryDir      string `yaml:"query_dir"`
	IDLength      int    `yaml:"id_length"`
	EnableBetween bool   `yaml:"enable_between"`
	ValidateSQL   bool   `yaml:"validate_sql"`

	// DropInvalidSQL drops candidates the syntax check rejects instead of
	// only logging them.
	DropInvalidSQL bool `yaml:"drop_invalid_sql"`
}

// ReferenceConfig configures the planner oracle connection pool.
type ReferenceConfig struct {
	Candidates         []string `yaml:"candidates"`
	MaxConns           int      `yaml:"max_conns"`
	Workers            int      `yaml:"workers"`
	ConnectTimeoutMs   int      `yaml:"connect_timeout_ms"`
	StatementTimeoutMs int      `yaml:"statement_timeout_ms"`
	DisabledStrategies []string `yaml:"disabled_strategies"`
	ForbiddenNode      string   `yaml:"forbidden_node"`
}

// AnalyticalConfig configures the embedded analytical engine, used both
// in-process for domains and as a one-shot subprocess for cardinality probes.
type AnalyticalConfig struct {
	Database    string `yaml:"database"`
	Binary      string `yaml:"binary"`
	MemoryLimit string `yaml:"memory_limit"`
	TimeoutMs   int    `yaml:"timeout_ms"`
	MaxRows     int64  `yaml:"max_rows"`
	OOMMarker   string `yaml:"oom_marker"`
}

// EngineConfig configures the engine under test.
type EngineConfig struct {
	Binary         string   `yaml:"binary"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	FailureMarker  string   `yaml:"failure_marker"`
	StderrTail     int      `yaml:"stderr_tail"`
	Env            []string `yaml:"env"`
}

// Logging controls console and durable log behavior.
type Logging struct {
	Verbose               bool   `yaml:"verbose"`
	LogFile               string `yaml:"log_file"`
	RunLog                string `yaml:"run_log"`
	ErrorLog              string `yaml:"error_log"`
	ReportIntervalSeconds int    `yaml:"report_interval_seconds"`
}

// ReportConfig controls failure case directories.
type ReportConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	Archive   bool   `yaml:"archive"`
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (legacy and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

// Validate reports configuration that makes a run impossible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SchemaPath) == "" {
		return errors.New("schema_path is required")
	}
	if strings.TrimSpace(c.TemplatesPath) == "" {
		return errors.New("templates_path is required")
	}
	if len(c.Reference.Candidates) == 0 {
		return errors.New("reference.candidates must list at least one DSN")
	}
	if strings.TrimSpace(c.Analytical.Database) == "" {
		return errors.New("analytical.database is required")
	}
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary is required")
	}
	return nil
}

const (
	batchSizeDefault          = 1000
	maxPredicatesDefault      = 8
	maxInValuesDefault        = 10
	idLengthDefault           = 4
	maxConnsDefault           = 8
	connectTimeoutMsDefault   = 3000
	statementTimeoutMsDefault = 10000
	forbiddenNodeDefault      = "Nested Loop"
	probeTimeoutMsDefault     = 3000
	probeMaxRowsDefault       = 10_000_000
	oomMarkerDefault          = "Out of Memory Error"
	failureMarkerDefault      = "false"
	stderrTailDefault         = 3
)

func normalizeConfig(cfg *Config) {
	if cfg.Cycles < 0 {
		cfg.Cycles = 0
	}
	if cfg.Generation.BatchSize <= 0 {
		cfg.Generation.BatchSize = batchSizeDefault
	}
	if cfg.Generation.MaxPredicates < 0 {
		cfg.Generation.MaxPredicates = 0
	}
	if cfg.Generation.MaxInValues <= 0 {
		cfg.Generation.MaxInValues = maxInValuesDefault
	}
	if cfg.Generation.IDLength <= 0 {
		cfg.Generation.IDLength = idLengthDefault
	}
	if strings.TrimSpace(cfg.Generation.QueryDir) == "" {
		cfg.Generation.QueryDir = "queries"
	}
	candidates := cfg.Reference.Candidates[:0]
	for _, dsn := range cfg.Reference.Candidates {
		if dsn = strings.TrimSpace(dsn); dsn != "" {
			candidates = append(candidates, dsn)
		}
	}
	cfg.Reference.Candidates = candidates
	if cfg.Reference.MaxConns <= 0 {
		cfg.Reference.MaxConns = maxConnsDefault
	}
	if cfg.Reference.MaxConns > maxConnsDefault {
		cfg.Reference.MaxConns = maxConnsDefault
	}
	if cfg.Reference.Workers <= 0 || cfg.Reference.Workers > cfg.Reference.MaxConns {
		cfg.Reference.Workers = cfg.Reference.MaxConns
	}
	if cfg.Reference.ConnectTimeoutMs <= 0 {
		cfg.Reference.ConnectTimeoutMs = connectTimeoutMsDefault
	}
	if cfg.Reference.StatementTimeoutMs <= 0 {
		cfg.Reference.StatementTimeoutMs = statementTimeoutMsDefault
	}
	if strings.TrimSpace(cfg.Reference.ForbiddenNode) == "" {
		cfg.Reference.ForbiddenNode = forbiddenNodeDefault
	}
	if strings.TrimSpace(cfg.Analytical.Binary) == "" {
		cfg.Analytical.Binary = "duckdb"
	}
	if cfg.Analytical.TimeoutMs <= 0 {
		cfg.Analytical.TimeoutMs = probeTimeoutMsDefault
	}
	if cfg.Analytical.MaxRows <= 0 {
		cfg.Analytical.MaxRows = probeMaxRowsDefault
	}
	if cfg.Analytical.OOMMarker == "" {
		cfg.Analytical.OOMMarker = oomMarkerDefault
	}
	if cfg.Engine.TimeoutSeconds < 0 {
		cfg.Engine.TimeoutSeconds = 0
	}
	if cfg.Engine.FailureMarker == "" {
		cfg.Engine.FailureMarker = failureMarkerDefault
	}
	if cfg.Engine.StderrTail <= 0 {
		cfg.Engine.StderrTail = stderrTailDefault
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = "cases"
	}
}

func defaultConfig() Config {
	return Config{
		SchemaPath:    "schema.json",
		TemplatesPath: "templates.json",
		Generation: GenerationConfig{
			BatchSize:     batchSizeDefault,
			MaxPredicates: maxPredicatesDefault,
			MaxInValues:   maxInValuesDefault,
			QueryDir:      "queries",
			IDLength:      idLengthDefault,
			ValidateSQL:   true,
		},
		Reference: ReferenceConfig{
			Candidates:         []string{"host=localhost dbname=postgres user=postgres password=postgres sslmode=disable"},
			MaxConns:           maxConnsDefault,
			Workers:            maxConnsDefault,
			ConnectTimeoutMs:   connectTimeoutMsDefault,
			StatementTimeoutMs: statementTimeoutMsDefault,
			DisabledStrategies: []string{"enable_nestloop", "enable_bitmapscan", "enable_indexscan"},
			ForbiddenNode:      forbiddenNodeDefault,
		},
		Analytical: AnalyticalConfig{
			Database:    "imdb.db",
			Binary:      "duckdb",
			MemoryLimit: "10GB",
			TimeoutMs:   probeTimeoutMsDefault,
			MaxRows:     probeMaxRowsDefault,
			OOMMarker:   oomMarkerDefault,
		},
		Engine: EngineConfig{
			Binary:        "cmake-build-relwithassert/run",
			FailureMarker: failureMarkerDefault,
			StderrTail:    stderrTailDefault,
		},
		Logging: Logging{
			LogFile:               "logs/planfuzz.log",
			RunLog:                "querygen.log",
			ErrorLog:              "errors.log",
			ReportIntervalSeconds: 30,
		},
		Report: ReportConfig{
			Enabled:   true,
			OutputDir: "cases",
			Archive:   true,
		},
	}
}
