package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration shared by every clubadmin command.
type Config struct {
	Console ConsoleConfig `yaml:"console"`
	Backend BackendConfig `yaml:"backend"`
	Images  ImagesConfig  `yaml:"images"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	PDF     PDFConfig     `yaml:"pdf"`
	DevAPI  DevAPIConfig  `yaml:"devapi"`
	Log     LogConfig     `yaml:"log"`
}

// ConsoleConfig holds the admin console HTTP server settings.
type ConsoleConfig struct {
	Addr            string        `yaml:"addr"             env:"CLIENT_ADDR"              env-default:":3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"CLIENT_READ_TIMEOUT"      env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"CLIENT_WRITE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CLIENT_SHUTDOWN_TIMEOUT"  env-default:"5s"`
	CSRFKey         string        `yaml:"csrf_key"         env:"CLIENT_CSRF_KEY"`
	SecureCookies   bool          `yaml:"secure_cookies"   env:"CLIENT_SECURE_COOKIES"    env-default:"false"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"CLIENT_MAX_UPLOAD_BYTES"  env-default:"20971520"`
}

// BackendConfig points at the domain record API. Every view path is
// appended to BaseURL.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL" env-default:"http://localhost:8080"`
	Timeout time.Duration `yaml:"timeout"  env:"API_TIMEOUT"  env-default:"15s"`
}

// ImagesConfig points at the image host.
type ImagesConfig struct {
	BaseURL      string `yaml:"base_url"      env:"IMAGE_HOST_URL"      env-default:"http://localhost:8080"`
	Tenant       string `yaml:"tenant"        env:"IMAGE_TENANT"        env-default:"club"`
	Site         string `yaml:"site"          env:"IMAGE_SITE"          env-default:"website"`
	MaxEdge      int    `yaml:"max_edge"      env:"IMAGE_MAX_EDGE"      env-default:"1600"`
	Quality      int    `yaml:"quality"       env:"IMAGE_QUALITY"       env-default:"82"`
	ThumbQuality int    `yaml:"thumb_quality" env:"IMAGE_THUMB_QUALITY" env-default:"60"`
	ThumbFormat  string `yaml:"thumb_format"  env:"IMAGE_THUMB_FORMAT"  env-default:"webp"`
}

// AuthConfig holds the single admin login.
type AuthConfig struct {
	Username     string        `yaml:"username"      env:"ADMIN_USERNAME"      env-default:"admin"`
	PasswordHash string        `yaml:"password_hash" env:"ADMIN_PASSWORD_HASH"`
	SessionTTL   time.Duration `yaml:"session_ttl"   env:"ADMIN_SESSION_TTL"   env-default:"12h"`
}

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"     env:"DATA_DIR"            env-default:"./data"`
	JournalPath string `yaml:"journal_path" env:"UPLOAD_JOURNAL_PATH"`
	StatePath   string `yaml:"state_path"   env:"APP_STATE_PATH"`
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH"`
}

// Journal returns the upload journal path, defaulting under DataDir.
func (s StorageConfig) Journal() string {
	if s.JournalPath != "" {
		return s.JournalPath
	}
	return filepath.Join(s.DataDir, "uploads.db")
}

// State returns the app state path, defaulting under DataDir.
func (s StorageConfig) State() string {
	if s.StatePath != "" {
		return s.StatePath
	}
	return filepath.Join(s.DataDir, "state.json")
}

type PDFConfig struct {
	Enabled bool   `yaml:"enabled" env:"PDF_ENABLED" env-default:"false"`
	Format  string `yaml:"format"  env:"PDF_FORMAT"  env-default:"A4"`
}

// DevAPIConfig configures the in-memory stand-in backend.
type DevAPIConfig struct {
	Addr string `yaml:"addr" env:"DEVAPI_ADDR" env-default:":8080"`
	Seed bool   `yaml:"seed" env:"DEVAPI_SEED" env-default:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}
