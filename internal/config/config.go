package config

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/resilience"
	"github.com/sells-group/shp-enrich/internal/store"
	"github.com/sells-group/shp-enrich/internal/worldcat"
)

// Config holds the full application configuration.
type Config struct {
	Library  string             `yaml:"library" mapstructure:"library"`
	Store    StoreConfig        `yaml:"store" mapstructure:"store"`
	WorldCat WorldCatConfig     `yaml:"worldcat" mapstructure:"worldcat"`
	Enrich   EnrichConfig       `yaml:"enrich" mapstructure:"enrich"`
	Export   ident.ExportLayout `yaml:"export" mapstructure:"export"`
	Reports  ReportsConfig      `yaml:"reports" mapstructure:"reports"`
	Log      LogConfig          `yaml:"log" mapstructure:"log"`
}

// ReportsConfig locates the authority's report delivery directory.
type ReportsConfig struct {
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// WorldCatConfig holds Metadata API credentials and client settings.
type WorldCatConfig struct {
	Key               string      `yaml:"key" mapstructure:"key"`
	Secret            string      `yaml:"secret" mapstructure:"secret"`
	PrincipalID       string      `yaml:"principal_id" mapstructure:"principal_id"`
	PrincipalIDNS     string      `yaml:"principal_idns" mapstructure:"principal_idns"`
	Agent             string      `yaml:"agent" mapstructure:"agent"`
	CredentialsPath   string      `yaml:"credentials_path" mapstructure:"credentials_path"`
	TokenURL          string      `yaml:"token_url" mapstructure:"token_url"`
	BaseURL           string      `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient fetch failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// EnrichConfig configures enrichment runs.
type EnrichConfig struct {
	BatchSize  int    `yaml:"batch_size" mapstructure:"batch_size"`
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("library", string(model.LibraryBPL))
	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.database_url", "shp-enrich.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("worldcat.key", "")
	v.SetDefault("worldcat.secret", "")
	v.SetDefault("worldcat.principal_id", "")
	v.SetDefault("worldcat.principal_idns", "")
	v.SetDefault("worldcat.agent", "")
	v.SetDefault("worldcat.credentials_path", "")
	v.SetDefault("worldcat.token_url", "https://oauth.oclc.org/token")
	v.SetDefault("worldcat.base_url", "https://metadata.api.oclc.org/worldcat")
	v.SetDefault("worldcat.requests_per_second", 2.0)
	v.SetDefault("worldcat.timeout_secs", 30)
	v.SetDefault("worldcat.retry.max_attempts", 3)
	v.SetDefault("worldcat.retry.initial_backoff_ms", 500)
	v.SetDefault("worldcat.retry.max_backoff_ms", 10000)
	v.SetDefault("enrich.batch_size", 5000)
	v.SetDefault("enrich.policy_path", "")
	v.SetDefault("export.control_column", ident.DefaultExportLayout.ControlColumn)
	v.SetDefault("export.repeat_columns", ident.DefaultExportLayout.RepeatColumns)
	v.SetDefault("export.repeat_delimiter", ident.DefaultExportLayout.RepeatDelimiter)
	v.SetDefault("reports.ftp_url", "")
	v.SetDefault("reports.user", "")
	v.SetDefault("reports.password", "")
	v.SetDefault("reports.timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present. Mode
// "enrich" additionally requires Metadata API credentials.
func (c *Config) Validate(mode string) error {
	var errs []string

	if _, err := model.ParseLibrary(c.Library); err != nil {
		errs = append(errs, "library must be BPL or NYPL")
	}
	switch c.Store.Driver {
	case "", store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "enrich":
		creds, err := c.WorldCat.Credentials()
		if err != nil {
			return err
		}
		if creds.Key == "" || creds.Secret == "" {
			errs = append(errs, "worldcat.key and worldcat.secret are required")
		}
		if c.Enrich.BatchSize < 0 {
			errs = append(errs, "enrich.batch_size must be >= 0")
		}
	case "", "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Options converts the settings into a store.Config.
func (s StoreConfig) Options() store.Config {
	return store.Config{
		Driver:      s.Driver,
		DatabaseURL: s.DatabaseURL,
		Pool:        &store.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns},
	}
}

// Policy converts the settings into a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)
}

// Credentials returns the Metadata API credentials. Values from the
// credentials file, when one is configured, fill in anything not set
// explicitly.
func (w WorldCatConfig) Credentials() (worldcat.Credentials, error) {
	creds := worldcat.Credentials{
		Key:           w.Key,
		Secret:        w.Secret,
		PrincipalID:   w.PrincipalID,
		PrincipalIDNS: w.PrincipalIDNS,
		Agent:         w.Agent,
	}
	if w.CredentialsPath == "" {
		return creds, nil
	}

	file, err := LoadCredentials(w.CredentialsPath)
	if err != nil {
		return worldcat.Credentials{}, err
	}
	creds.Key = firstNonEmpty(creds.Key, file.Key)
	creds.Secret = firstNonEmpty(creds.Secret, file.Secret)
	creds.PrincipalID = firstNonEmpty(creds.PrincipalID, file.PrincipalID)
	creds.PrincipalIDNS = firstNonEmpty(creds.PrincipalIDNS, file.PrincipalIDNS)
	creds.Agent = firstNonEmpty(creds.Agent, file.Agent)
	return creds, nil
}

// LoadCredentials reads a JSON credentials file.
func LoadCredentials(path string) (worldcat.Credentials, error) {
	var creds worldcat.Credentials
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, eris.Wrapf(err, "config: read credentials %s", path)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, eris.Wrapf(err, "config: parse credentials %s", path)
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
