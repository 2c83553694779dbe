package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

// Duration lets YAML carry values like "3m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the file- and environment-level configuration. Command line
// flags override whatever is resolved here.
type Config struct {
	Connections int      `yaml:"connections"`
	Workers     int      `yaml:"workers"`
	Timeout     Duration `yaml:"timeout"`
	KATimeout   Duration `yaml:"keep-alive-timeout"`
	UserAgent   string   `yaml:"user-agent"`
	ProxyURL    string   `yaml:"proxy"`
	PartDir     string   `yaml:"part-directory"`
	NoPart      bool     `yaml:"no-part"`
	Debug       bool     `yaml:"debug"`
}

func Default() Config {
	return Config{
		Connections: utils.DefaultConnections,
		Workers:     utils.DefaultParallelJobs,
		Timeout:     Duration(utils.DefaultTimeout),
		KATimeout:   Duration(utils.DefaultKeepAliveTimeout),
		UserAgent:   utils.ToolUserAgent,
	}
}

// Load resolves configuration in ascending precedence: defaults, the
// YAML file at path (or ./gallery-dl.yaml when path is empty), then
// GALLERY_DL_* environment variables. A .env file is honored too.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = "gallery-dl.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing config file: %v", err)
		}
	} else if explicit {
		return cfg, fmt.Errorf("error reading config file: %v", err)
	}
	godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GALLERY_DL_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Connections = n
		}
	}
	if v := os.Getenv("GALLERY_DL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("GALLERY_DL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("GALLERY_DL_KEEP_ALIVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.KATimeout = Duration(d)
		}
	}
	if v := os.Getenv("GALLERY_DL_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("GALLERY_DL_PROXY"); v != "" {
		c.ProxyURL = v
	}
	if v := os.Getenv("GALLERY_DL_PART_DIR"); v != "" {
		c.PartDir = v
	}
	if v := os.Getenv("GALLERY_DL_NO_PART"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.NoPart = b
		}
	}
	if v := os.Getenv("GALLERY_DL_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}
