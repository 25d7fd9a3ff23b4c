package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"playbooks/internal/domain"
)

// Config models playbooks.yml.
type Config struct {
	Store struct {
		StatementTimeout Duration `yaml:"statement_timeout"`
		BusyTimeout      Duration `yaml:"busy_timeout"`
	} `yaml:"store"`
	Session struct {
		Backend    string   `yaml:"backend"`
		Expiry     Duration `yaml:"expiry"`
		RememberMe Duration `yaml:"remember_me"`
		RedisAddr  string   `yaml:"redis_addr"`
	} `yaml:"session"`
	Blob struct {
		Backend         string `yaml:"backend"`
		Dir             string `yaml:"dir"`
		Bucket          string `yaml:"bucket"`
		Prefix          string `yaml:"prefix"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"blob"`
	Markdown struct {
		AllowedTags       []string            `yaml:"allowed_tags"`
		AllowedAttributes map[string][]string `yaml:"allowed_attributes"`
	} `yaml:"markdown"`
	Audit struct {
		ActionTypes []string `yaml:"action_types"`
	} `yaml:"audit"`
	Auth struct {
		JWTSecretEnv string   `yaml:"jwt_secret_env"`
		DevLogin     bool     `yaml:"dev_login"`
		TokenTTL     Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
}

// Duration decodes YAML values like "336h" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// MarkdownTags is the fixed set of HTML tags the guidance sanitizer keeps.
var MarkdownTags = []string{
	"p", "br", "strong", "em", "u", "s", "code", "pre", "blockquote",
	"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "a", "img",
	"table", "thead", "tbody", "tr", "th", "td", "hr", "div", "span",
}

// MarkdownAttributes is the fixed set of attributes kept per tag.
var MarkdownAttributes = map[string][]string{
	"a":    {"href", "title"},
	"img":  {"src", "alt", "title"},
	"code": {"class"},
	"div":  {"class"},
	"span": {"class"},
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Store.StatementTimeout.Duration < 0 {
		return fmt.Errorf("config.store.statement_timeout must not be negative")
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("config.session.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.session.backend must be memory or redis, got %q", c.Session.Backend)
	}
	if c.Session.Expiry.Duration <= 0 {
		return fmt.Errorf("config.session.expiry must be positive")
	}
	if c.Session.RememberMe.Duration < c.Session.Expiry.Duration {
		return fmt.Errorf("config.session.remember_me must not be shorter than expiry")
	}
	switch c.Blob.Backend {
	case "file":
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config.blob.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config.blob.backend must be file or gcs, got %q", c.Blob.Backend)
	}
	for _, tag := range c.Markdown.AllowedTags {
		if !slices.Contains(MarkdownTags, tag) {
			return fmt.Errorf("markdown tag %s is not in the built-in set", tag)
		}
	}
	for tag, attrs := range c.Markdown.AllowedAttributes {
		for _, a := range attrs {
			if !slices.Contains(MarkdownAttributes[tag], a) {
				return fmt.Errorf("markdown attribute %s on %s is not in the built-in set", a, tag)
			}
		}
	}
	for _, a := range c.Audit.ActionTypes {
		if !domain.ActionType(a).Valid() {
			return fmt.Errorf("audit action type %s is not in the built-in set", a)
		}
	}
	if c.Auth.JWTSecretEnv == "" {
		return fmt.Errorf("config.auth.jwt_secret_env is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "playbooks.yml")
}

// Load reads playbooks.yml from workspace, falling back to defaults when it does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  statement_timeout: 30s
  busy_timeout: 5s

session:
  backend: memory
  expiry: 336h
  remember_me: 720h
  redis_addr: ""

blob:
  backend: file
  dir: .playbooks/blobs

markdown:
  allowed_tags: [p, br, strong, em, u, s, code, pre, blockquote, h1, h2, h3, h4, h5, h6, ul, ol, li, a, img, table, thead, tbody, tr, th, td, hr, div, span]
  allowed_attributes:
    a: [href, title]
    img: [src, alt, title]
    code: [class]
    div: [class]
    span: [class]

audit:
  action_types:
    - playbook_created
    - playbook_updated
    - playbook_deleted
    - playbook_viewed
    - workflow_created
    - workflow_updated
    - workflow_deleted
    - activity_created
    - activity_updated
    - activity_deleted
    - dashboard_viewed

auth:
  jwt_secret_env: PLAYBOOKS_JWT_SECRET
  dev_login: true
  token_ttl: 336h
`
