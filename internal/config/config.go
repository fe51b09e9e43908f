package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lakeplane/internal/domain"
)

const (
	BackendAthena = "athena"
	BackendSQLite = "sqlite"

	DefaultPollInterval = 500 * time.Millisecond
	DefaultQueryTimeout = 2 * time.Minute
	// MaxPollInterval keeps the status poll at two or more checks per second.
	MaxPollInterval = 500 * time.Millisecond

	// The local store's migrations create these tables and nothing else.
	DefaultJobRunsTable = "job_runs"
	DefaultStatusTable  = "dataset_status"
)

// DefaultSafetyChecks apply to a replay rule set that does not list its own.
var DefaultSafetyChecks = []string{
	"bronze_is_immutable",
	"silver_upsert_idempotent",
	"gold_rebuildable",
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config models lakeplane.yml. A loaded Config is never mutated; components
// receive it by pointer at construction.
type Config struct {
	Layers []domain.Layer `yaml:"layers"`
	AWS    struct {
		Region string `yaml:"region"`
		Athena struct {
			Workgroup      string `yaml:"workgroup"`
			OutputLocation string `yaml:"output_location"`
		} `yaml:"athena"`
	} `yaml:"aws"`
	Query struct {
		Backend      string        `yaml:"backend"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Timeout      time.Duration `yaml:"timeout"`
		SQLitePath   string        `yaml:"sqlite_path"`
	} `yaml:"query"`
	Monitoring struct {
		Database     string `yaml:"database"`
		JobRunsTable string `yaml:"job_runs_table"`
		StatusTable  string `yaml:"status_table"`
	} `yaml:"monitoring"`
	Flows  map[string]domain.DataFlow `yaml:"flows"`
	Replay map[string]ReplayRules     `yaml:"replay"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

type ReplayRule struct {
	Job        string `yaml:"job"`
	Replayable bool   `yaml:"replayable"`
}

// ReplayRules holds the per-layer replay jobs of one flow.
type ReplayRules struct {
	Layers       map[string]ReplayRule `yaml:"layers"`
	SafetyChecks []string              `yaml:"safety_checks"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lakeplane config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lakeplane.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in config. It always validates.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) applyDefaults() {
	if c.Query.Backend == "" {
		c.Query.Backend = BackendAthena
	}
	if c.Query.PollInterval == 0 {
		c.Query.PollInterval = DefaultPollInterval
	}
	if c.Query.Timeout == 0 {
		c.Query.Timeout = DefaultQueryTimeout
	}
	if c.AWS.Athena.Workgroup == "" {
		c.AWS.Athena.Workgroup = "primary"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	for key, rules := range c.Replay {
		if len(rules.SafetyChecks) == 0 {
			rules.SafetyChecks = append([]string(nil), DefaultSafetyChecks...)
			c.Replay[key] = rules
		}
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("config.layers requires at least one layer")
	}
	seen := map[string]bool{}
	for i, l := range c.Layers {
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("config.layers[%d].name is required", i)
		}
		if strings.Contains(l.Name, ".") {
			return fmt.Errorf("layer %s must not contain '.'", l.Name)
		}
		if strings.TrimSpace(l.Database) == "" {
			return fmt.Errorf("layer %s has empty database", l.Name)
		}
		if seen[l.Name] {
			return fmt.Errorf("layer %s declared twice", l.Name)
		}
		seen[l.Name] = true
	}
	switch c.Query.Backend {
	case BackendAthena:
	case BackendSQLite:
		if c.Query.SQLitePath == "" {
			return fmt.Errorf("config.query.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config.query.backend must be %s or %s", BackendAthena, BackendSQLite)
	}
	if c.Query.PollInterval < 0 || c.Query.PollInterval > MaxPollInterval {
		return fmt.Errorf("config.query.poll_interval must be between 0 and %s", MaxPollInterval)
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("config.query.timeout must be positive")
	}
	if c.Monitoring.Database == "" {
		return fmt.Errorf("config.monitoring.database is required")
	}
	for name, v := range map[string]string{
		"job_runs_table": c.Monitoring.JobRunsTable,
		"status_table":   c.Monitoring.StatusTable,
	} {
		if !identifierPattern.MatchString(v) {
			return fmt.Errorf("config.monitoring.%s %q is not a valid identifier", name, v)
		}
	}
	if c.Query.Backend == BackendSQLite &&
		(c.Monitoring.JobRunsTable != DefaultJobRunsTable || c.Monitoring.StatusTable != DefaultStatusTable) {
		return fmt.Errorf("the sqlite backend only has tables %s and %s; config.monitoring names must match",
			DefaultJobRunsTable, DefaultStatusTable)
	}
	owner := map[string]string{}
	for key, flow := range c.Flows {
		if key == "" {
			return fmt.Errorf("config.flows contains empty event key")
		}
		for _, fl := range flow.Layers {
			if !seen[fl.Layer] {
				return fmt.Errorf("flow %s references unknown layer %s", key, fl.Layer)
			}
			if fl.Table == "" {
				return fmt.Errorf("flow %s layer %s has empty table", key, fl.Layer)
			}
		}
		for _, ds := range flowDatasets(flow) {
			if other, ok := owner[ds]; ok && other != key {
				return fmt.Errorf("dataset %s registered by flows %s and %s", ds, other, key)
			}
			owner[ds] = key
		}
	}
	for key, rules := range c.Replay {
		if _, ok := c.Flows[key]; !ok {
			return fmt.Errorf("replay rules for %s have no matching flow", key)
		}
		for _, l := range c.Layers {
			rule, ok := rules.Layers[l.Name]
			if !ok {
				return fmt.Errorf("replay rules for %s missing layer %s", key, l.Name)
			}
			if rule.Job == "" {
				return fmt.Errorf("replay rule %s/%s has empty job", key, l.Name)
			}
		}
		for layer := range rules.Layers {
			if !seen[layer] {
				return fmt.Errorf("replay rules for %s reference unknown layer %s", key, layer)
			}
		}
	}
	return nil
}

// LayerNames returns layer names in pipeline order.
func (c *Config) LayerNames() []string {
	out := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		out = append(out, l.Name)
	}
	return out
}

func flowDatasets(flow domain.DataFlow) []string {
	var out []string
	for _, fl := range flow.Layers {
		out = append(out, fl.Table)
	}
	return append(out, flow.Datasets...)
}

const defaultTemplate = `layers:
  - name: bronze
    database: bronze_db
  - name: silver
    database: silver_db
  - name: gold
    database: gold_db

aws:
  region: us-east-1
  athena:
    workgroup: primary

query:
  backend: athena
  poll_interval: 500ms
  timeout: 2m

monitoring:
  database: monitoring_db
  job_runs_table: job_runs
  status_table: dataset_status

flows:
  order_created:
    source:
      type: event
      producer: order-service
      transport: Amazon Kinesis Data Streams
    ingestion:
      job: glue-streaming-order-created
      mode: streaming
      schema_enforced: true
    layers:
      - layer: bronze
        table: bronze_order_created
        characteristics: [append-only, immutable, partitioned by ingest_time]
      - layer: silver
        table: silver_order_created
        characteristics: [deduplicated, event-time partitioned, upsert via Iceberg MERGE]
      - layer: gold
        table: gold_daily_order_metrics
        characteristics: [aggregated, analytics-optimized, rebuildable]
    slas:
      bronze_freshness_minutes: 5
      silver_latency_minutes: 30
      gold_refresh: daily
    replay_strategy:
      source_of_truth: bronze
      replay_path: "bronze → silver → gold"
      max_late_data_hours: 24

replay:
  order_created:
    layers:
      bronze:
        job: glue-streaming-order-created
        replayable: true
      silver:
        job: bronze-to-silver-order-created
        replayable: true
      gold:
        job: silver-to-gold-daily-order-metrics
        replayable: true
    safety_checks:
      - bronze_is_immutable
      - silver_upsert_idempotent
      - gold_rebuildable

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
