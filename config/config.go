package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const defaultSourceFile = "config/source.yaml"

type Config struct {
	Source         SourceConfig
	Proxy          ProxyConfig
	Fetch          FetchConfig
	Browser        BrowserConfig
	Store          StoreConfig
	Scheduler      SchedulerConfig
	Export         ExportConfig
	CheckpointPath string
	LogPath        string
	LogLevel       string
}

// SourceConfig describes the listing site. It is read from config/source.yaml
// when present; the defaults below match the motorcycles collection.
type SourceConfig struct {
	Name            string `yaml:"name"`
	BaseURL         string `yaml:"base_url"`
	Collection      string `yaml:"collection"`
	BootstrapURL    string `yaml:"bootstrap_url"`
	DataAnchorID    string `yaml:"data_anchor_id"`
	NominalPageSize int    `yaml:"nominal_page_size"`
}

type ProxyConfig struct {
	URL string
}

type FetchConfig struct {
	Mode              string // http or browser
	MaxAttempts       int
	RequestTimeout    time.Duration
	TransportDelay    time.Duration
	BlockedDelayMin   time.Duration
	BlockedDelayMax   time.Duration
	MalformedDelayMin time.Duration
	MalformedDelayMax time.Duration
	PageDelayMin      time.Duration
	PageDelayMax      time.Duration
}

type BrowserConfig struct {
	Headless         bool
	UserDataDir      string
	ChallengeTimeout time.Duration
	ChallengePoll    time.Duration
}

type StoreConfig struct {
	Driver      string // sqlite or postgres
	SQLitePath  string
	PostgresURL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ExportConfig struct {
	Path   string
	Format string // csv or xlsx
	S3     S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	KeyPrefix       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Source: SourceConfig{
			Name:            "motorcycles",
			BaseURL:         "https://www.yad2.co.il/vehicles",
			Collection:      "motorcycles",
			BootstrapURL:    "https://www.yad2.co.il/vehicles/motorcycles",
			DataAnchorID:    "__NEXT_DATA__",
			NominalPageSize: 40,
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Fetch: FetchConfig{
			Mode:              strings.ToLower(getEnv("FETCH_MODE", "http")),
			MaxAttempts:       getEnvInt("FETCH_MAX_ATTEMPTS", 10),
			RequestTimeout:    getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
			TransportDelay:    getEnvDuration("FETCH_TRANSPORT_DELAY", 5*time.Second),
			BlockedDelayMin:   getEnvDuration("FETCH_BLOCKED_DELAY_MIN", 60*time.Second),
			BlockedDelayMax:   getEnvDuration("FETCH_BLOCKED_DELAY_MAX", 600*time.Second),
			MalformedDelayMin: getEnvDuration("FETCH_MALFORMED_DELAY_MIN", 30*time.Second),
			MalformedDelayMax: getEnvDuration("FETCH_MALFORMED_DELAY_MAX", 60*time.Second),
			PageDelayMin:      getEnvDuration("PAGE_DELAY_MIN", 1*time.Second),
			PageDelayMax:      getEnvDuration("PAGE_DELAY_MAX", 120*time.Second),
		},
		Browser: BrowserConfig{
			Headless:         getEnv("BROWSER_HEADLESS", "false") == "true",
			UserDataDir:      getEnv("BROWSER_DATA_DIR", "browser_data"),
			ChallengeTimeout: getEnvDuration("CHALLENGE_TIMEOUT", 10*time.Minute),
			ChallengePoll:    getEnvDuration("CHALLENGE_POLL", 5*time.Second),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			SQLitePath:  getEnv("DB_PATH", "motorcycle_listings.db"),
			PostgresURL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Export: ExportConfig{
			Path:   getEnv("EXPORT_PATH", "active_listings.csv"),
			Format: strings.ToLower(getEnv("EXPORT_FORMAT", "csv")),
			S3: S3Config{
				Bucket:          os.Getenv("EXPORT_S3_BUCKET"),
				Region:          getEnv("EXPORT_S3_REGION", "us-east-1"),
				Endpoint:        os.Getenv("EXPORT_S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("EXPORT_S3_ACCESS_KEY"),
				SecretAccessKey: os.Getenv("EXPORT_S3_SECRET_KEY"),
				KeyPrefix:       getEnv("EXPORT_S3_PREFIX", "exports/"),
			},
		},
		CheckpointPath: getEnv("CHECKPOINT_PATH", "metadata.json"),
		LogPath:        getEnv("LOG_PATH", "scraper.log"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
	}

	if err := cfg.loadSourceConfig(getEnv("SOURCE_CONFIG", defaultSourceFile)); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSourceConfig overlays non-empty YAML fields onto the defaults. A missing
// file is not an error.
func (c *Config) loadSourceConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "config: read %s", path)
	}

	var src SourceConfig
	if err := yaml.Unmarshal(data, &src); err != nil {
		return eris.Wrapf(err, "config: parse %s", path)
	}

	if src.Name != "" {
		c.Source.Name = src.Name
	}
	if src.BaseURL != "" {
		c.Source.BaseURL = strings.TrimRight(src.BaseURL, "/")
	}
	if src.Collection != "" {
		c.Source.Collection = src.Collection
	}
	if src.BootstrapURL != "" {
		c.Source.BootstrapURL = src.BootstrapURL
	}
	if src.DataAnchorID != "" {
		c.Source.DataAnchorID = src.DataAnchorID
	}
	if src.NominalPageSize > 0 {
		c.Source.NominalPageSize = src.NominalPageSize
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Fetch.Mode {
	case "http", "browser":
	default:
		return eris.Errorf("config: unknown FETCH_MODE %q", c.Fetch.Mode)
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.PostgresURL == "" {
			return eris.New("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return eris.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Export.Format {
	case "csv", "xlsx":
	default:
		return eris.Errorf("config: unknown EXPORT_FORMAT %q", c.Export.Format)
	}
	if c.Fetch.MaxAttempts < 1 {
		return eris.New("config: FETCH_MAX_ATTEMPTS must be at least 1")
	}
	if c.Fetch.PageDelayMax < c.Fetch.PageDelayMin {
		return eris.New("config: PAGE_DELAY_MAX is below PAGE_DELAY_MIN")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
