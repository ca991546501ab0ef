package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	yaml "gopkg.in/yaml.v2"
)

// MaxBatch is the largest number of rows the destination accepts per write.
const MaxBatch = 50

// ErrInvalid marks configuration errors. They abort a run before any network
// call is made.
var ErrInvalid = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type StoreConfig struct {
	// Type is one of "sqlite", "csv" or "memory".
	Type   string `yaml:"type"`
	SQLite struct {
		// DSN is a file path, ":memory:", or a libsql:// / https:// URL.
		DSN string `yaml:"dsn"`
	} `yaml:"sqlite"`
	CSV struct {
		Dir string `yaml:"dir"`
	} `yaml:"csv"`
	// Pace is the minimum spacing between store calls, for destinations
	// behind a rate limited API.
	Pace time.Duration `yaml:"pace"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Keys holds API credentials. They are normally supplied through the
// environment or a .env file rather than the YAML file.
type Keys struct {
	YouTube          string `yaml:"youtube"`
	OpenAI           string `yaml:"openai"`
	Gemini           string `yaml:"gemini"`
	CloudinaryCloud  string `yaml:"cloudinary_cloud"`
	CloudinaryPreset string `yaml:"cloudinary_preset"`
}

// Endpoints overrides the public API base URLs. Tests point these at local
// servers.
type Endpoints struct {
	Archive    string `yaml:"archive"`
	YouTube    string `yaml:"youtube"`
	OpenAI     string `yaml:"openai"`
	Gemini     string `yaml:"gemini"`
	Cloudinary string `yaml:"cloudinary"`
}

type Config struct {
	Store     StoreConfig `yaml:"store"`
	HTTP      HTTPConfig  `yaml:"http"`
	Keys      Keys        `yaml:"keys"`
	Endpoints Endpoints   `yaml:"endpoints"`
	// BatchSize is the number of rows per destination write, at most MaxBatch.
	BatchSize int  `yaml:"batch_size"`
	DryRun    bool `yaml:"dry_run"`
	Jobs      Jobs `yaml:"jobs"`
}

// Load reads the configuration file at path, merges <name>.local.<ext> over
// it when present, fills credentials from the environment (and a .env file
// next to the config) and validates the result.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := readYAML(absPath, &cfg); err != nil {
		return nil, err
	}

	localPath := localVariant(absPath)
	var override Config
	if err := readYAML(localPath, &override); err == nil {
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", localPath, err)
		}
		logrus.Infof("merged local overrides from %s", localPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	// A missing .env is fine, variables may already be exported.
	envPath := filepath.Join(filepath.Dir(absPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
	}
	cfg.Keys.fromEnv()

	if cfg.Store.CSV.Dir != "" && !filepath.IsAbs(cfg.Store.CSV.Dir) {
		cfg.Store.CSV.Dir = filepath.Join(filepath.Dir(absPath), cfg.Store.CSV.Dir)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes a YAML document without touching the filesystem or the
// environment. The HTTP job API builds configs this way.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithJob returns a copy of c whose only job section is section, decoded
// from fields. Unknown settings are rejected and the copy is validated like
// a loaded file.
func (c *Config) WithJob(section string, fields map[string]any) (*Config, error) {
	doc, err := yaml.Marshal(map[string]any{section: fields})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := *c
	out.Jobs = Jobs{}
	if err := yaml.UnmarshalStrict(doc, &out.Jobs); err != nil {
		return nil, fmt.Errorf("%w: jobs.%s: %v", ErrInvalid, section, err)
	}
	if err := out.Finalize(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finalize applies defaults and validates the configuration.
func (c *Config) Finalize() error {
	if c.Store.Type == "" {
		c.Store.Type = "sqlite"
	}
	switch c.Store.Type {
	case "sqlite":
		if c.Store.SQLite.DSN == "" {
			return invalidf("store.sqlite.dsn is required when store type is sqlite")
		}
	case "csv":
		if c.Store.CSV.Dir == "" {
			return invalidf("store.csv.dir is required when store type is csv")
		}
	case "memory":
	default:
		return invalidf("unsupported store type: %s", c.Store.Type)
	}

	if c.BatchSize == 0 {
		c.BatchSize = MaxBatch
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatch {
		return invalidf("batch_size must be between 1 and %d, got %d", MaxBatch, c.BatchSize)
	}

	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "sheet-etl/1.0"
	}
	c.Endpoints.applyDefaults()

	return c.Jobs.validate()
}

func (e *Endpoints) applyDefaults() {
	if e.Archive == "" {
		e.Archive = "https://archive.org"
	}
	if e.YouTube == "" {
		e.YouTube = "https://www.googleapis.com/youtube/v3"
	}
	if e.OpenAI == "" {
		e.OpenAI = "https://api.openai.com/v1"
	}
	if e.Gemini == "" {
		e.Gemini = "https://generativelanguage.googleapis.com/v1beta"
	}
	if e.Cloudinary == "" {
		e.Cloudinary = "https://api.cloudinary.com/v1_1"
	}
}

func (k *Keys) fromEnv() {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&k.YouTube, "YOUTUBE_API_KEY")
	set(&k.OpenAI, "OPENAI_API_KEY")
	set(&k.Gemini, "GEMINI_API_KEY")
	set(&k.CloudinaryCloud, "CLOUDINARY_CLOUD_NAME")
	set(&k.CloudinaryPreset, "CLOUDINARY_UPLOAD_PRESET")
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// localVariant maps config.yaml to config.local.yaml.
func localVariant(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}
