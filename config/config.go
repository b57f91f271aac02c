package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override file configuration.
// Sections are separated by a double underscore: APP_MEDIA__BASE_PATH -> media.base_path.
const EnvPrefix = "APP_"

// DefaultPath is the configuration file consulted when no explicit path is given.
var DefaultPath = filepath.Join("config", "config.yaml")

// AppConfig holds file and environment driven configuration values.
type AppConfig struct {
	App      AppSection        `koanf:"app"`
	Database DatabaseSection   `koanf:"database"`
	Redis    RedisSection      `koanf:"redis"`
	Log      LogSection        `koanf:"log"`
	Media    MediaSection      `koanf:"media"`
	S3       S3Section         `koanf:"s3"`
	Modules  map[string]string `koanf:"modules"` // module name -> directory holding composer.json
}

type AppSection struct {
	Port               string   `koanf:"port"`
	GinMode            string   `koanf:"gin_mode"`
	AccessLogPath      string   `koanf:"access_log_path"`
	AllowedOrigins     []string `koanf:"allowed_origins"`
	RateLimitPerMinute int      `koanf:"rate_limit_per_minute"`
}

type DatabaseSection struct {
	Driver   string `koanf:"driver"` // mysql, postgres, sqlite
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
}

type RedisSection struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DB       int    `koanf:"db"`
	Password string `koanf:"password"`
}

type LogSection struct {
	Level      string `koanf:"level"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

type MediaSection struct {
	Storage           string   `koanf:"storage"` // local or s3
	Root              string   `koanf:"root"`
	BaseURL           string   `koanf:"base_url"`
	BasePath          string   `koanf:"base_path"`
	BaseTmpPath       string   `koanf:"base_tmp_path"`
	AllowedExtensions []string `koanf:"allowed_extensions"`
	MaxUploadMB       int      `koanf:"max_upload_mb"`
	MirrorEnabled     bool     `koanf:"mirror_enabled"`
	StagingTTLMinutes int      `koanf:"staging_ttl_minutes"`
	SweepSchedule     string   `koanf:"sweep_schedule"`
	SweepLockPath     string   `koanf:"sweep_lock_path"`
}

type S3Section struct {
	Region       string `koanf:"region"`
	Bucket       string `koanf:"bucket"`
	Endpoint     string `koanf:"endpoint"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	Prefix       string `koanf:"prefix"`
	UsePathStyle bool   `koanf:"use_path_style"`
}

// LoadFrom reads configuration from path, or DefaultPath when path is empty.
// Precedence: .env -> yaml file -> APP_ environment overrides, then defaults for zero values.
func LoadFrom(path string) (AppConfig, error) {
	// .env is optional; variables it sets are picked up by the env provider below
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("load environment: %w", err)
	}

	var out AppConfig
	if err := k.Unmarshal("", &out); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&out)

	out.App.AllowedOrigins = normalizeList(out.App.AllowedOrigins)
	out.Media.AllowedExtensions = normalizeExtensions(out.Media.AllowedExtensions)
	return out, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func applyDefaults(c *AppConfig) {
	if c.App.Port == "" {
		c.App.Port = "8080"
	}
	if c.App.GinMode == "" {
		c.App.GinMode = "release"
	}
	if c.App.AccessLogPath == "" {
		c.App.AccessLogPath = filepath.Join("logs", "access.log")
	}
	if len(c.App.AllowedOrigins) == 0 {
		c.App.AllowedOrigins = []string{"*"}
	}
	if c.App.RateLimitPerMinute == 0 {
		c.App.RateLimitPerMinute = 60
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join("var", "mediastage.db")
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Path == "" {
		c.Log.Path = filepath.Join("logs", "app.log")
	}

	if c.Media.Storage == "" {
		c.Media.Storage = "local"
	}
	if c.Media.Root == "" {
		c.Media.Root = filepath.Join("pub", "media")
	}
	if c.Media.BaseURL == "" {
		c.Media.BaseURL = "/media/"
	}
	if c.Media.BasePath == "" {
		c.Media.BasePath = "images"
	}
	if c.Media.BaseTmpPath == "" {
		c.Media.BaseTmpPath = "tmp/images"
	}
	if len(c.Media.AllowedExtensions) == 0 {
		c.Media.AllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "svg"}
	}
	if c.Media.MaxUploadMB == 0 {
		c.Media.MaxUploadMB = 50
	}
	if c.Media.StagingTTLMinutes == 0 {
		c.Media.StagingTTLMinutes = 24 * 60
	}
	if c.Media.SweepSchedule == "" {
		c.Media.SweepSchedule = "@every 5m"
	}
	if c.Media.SweepLockPath == "" {
		c.Media.SweepLockPath = filepath.Join(os.TempDir(), "mediastage-sweep.lock")
	}

	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// normalizeList accepts both yaml lists and a single comma separated value from the environment.
func normalizeList(in []string) []string {
	var out []string
	for _, item := range in {
		out = append(out, splitAndTrim(item)...)
	}
	return out
}

func normalizeExtensions(in []string) []string {
	list := normalizeList(in)
	for i, ext := range list {
		list[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
	return list
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			res = append(res, v)
		}
	}
	return res
}
