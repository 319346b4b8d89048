package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultChunkSize bounds how many input rows are held in memory and
	// joined per PII store round-trip.
	DefaultChunkSize = 100000

	// DefaultSessionTTL is how long a login session stays valid.
	DefaultSessionTTL = time.Hour
)

// JiraConfig holds tracker connection settings. Credentials are never stored
// here; every call uses the caller's own email and API token.
type JiraConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ProjectKey     string        `yaml:"project_key"`
	AdminGroup     string        `yaml:"admin_group"`
	PIILabel       string        `yaml:"pii_label"`
	DoneTransition string        `yaml:"done_transition"`
	MaxResults     int           `yaml:"max_results"`
	TicketsPerPage int           `yaml:"tickets_per_page"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SessionConfig configures the Redis-backed session store.
type SessionConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	CookieName    string        `yaml:"cookie_name"`
	TTL           time.Duration `yaml:"ttl"`
}

// DatabaseConfig selects the PII user database. Driver is "mysql" in
// production; "sqlite" is handy for local development.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// QueryTimeout bounds each batched PII lookup during a join.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ExtractConfig controls the extraction pipeline.
type ExtractConfig struct {
	WorkRoot            string `yaml:"work_root"`
	ChunkSize           int    `yaml:"chunk_size"`
	DeliverEmptyArchive *bool  `yaml:"deliver_empty_archive"`
	SupportContact      string `yaml:"support_contact"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
}

// Config holds application settings.
type Config struct {
	Listen          string         `yaml:"listen"`
	Jira            JiraConfig     `yaml:"jira"`
	Session         SessionConfig  `yaml:"session"`
	Database        DatabaseConfig `yaml:"database"`
	AuditDBPath     string         `yaml:"audit_db_path"`
	SlackWebhookURL string         `yaml:"slack_webhook_url"`
	SlackTimeout    time.Duration  `yaml:"slack_timeout"`
	Extract         ExtractConfig  `yaml:"extract"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	deliverEmpty := true
	return Config{
		Listen: ":8080",
		Jira: JiraConfig{
			BaseURL:        "https://de101.atlassian.net",
			ProjectKey:     "DATA",
			AdminGroup:     "jira-admins-de101",
			PIILabel:       "pii",
			DoneTransition: "Done",
			MaxResults:     500,
			TicketsPerPage: 10,
			Timeout:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisAddr:  "localhost:6379",
			CookieName: "session_id",
			TTL:        DefaultSessionTTL,
		},
		Database: DatabaseConfig{
			Driver:       "mysql",
			DSN:          "root:root@tcp(127.0.0.1:3306)/data_request?parseTime=true",
			QueryTimeout: 30 * time.Second,
		},
		AuditDBPath:  "./dataportal_audit.duckdb",
		SlackTimeout: 10 * time.Second,
		Extract: ExtractConfig{
			WorkRoot:            "./file_path",
			ChunkSize:           DefaultChunkSize,
			DeliverEmptyArchive: &deliverEmpty,
			SupportContact:      "data-support@de101.example.com",
			DownloadConcurrency: 4,
		},
	}
}

// Load reads the YAML config at path (when path is non-empty) on top of the
// defaults, then applies environment overrides. An empty path just means
// defaults; an explicit path that cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv pulls secrets and deployment-specific endpoints from the
// environment so they stay out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("JIRA_BASE_URL"); v != "" {
		c.Jira.BaseURL = v
	}
	if v := os.Getenv("JIRA_PROJECT_KEY"); v != "" {
		c.Jira.ProjectKey = v
	}
	if v := os.Getenv("JIRA_ADMIN_GROUP"); v != "" {
		c.Jira.AdminGroup = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Session.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Session.RedisPassword = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.Database.Driver = "mysql"
		c.Database.DSN = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.SlackWebhookURL = v
	}
	if v := os.Getenv("SESSION_EXPIRE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Session.TTL = time.Duration(secs) * time.Second
		}
	}
}

func (c *Config) validate() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}
	if c.Jira.ProjectKey == "" {
		return fmt.Errorf("jira.project_key is required")
	}
	if c.Extract.ChunkSize <= 0 {
		return fmt.Errorf("extract.chunk_size must be positive, got %d", c.Extract.ChunkSize)
	}
	if c.Extract.WorkRoot == "" {
		return fmt.Errorf("extract.work_root is required")
	}
	return nil
}

// DeliverEmpty reports whether packaging and delivery should proceed when no
// merged output was produced. Defaults to true, matching the historical
// portal behavior; set deliver_empty_archive: false to fail such runs
// instead.
func (c *Config) DeliverEmpty() bool {
	if c.Extract.DeliverEmptyArchive == nil {
		return true
	}
	return *c.Extract.DeliverEmptyArchive
}
