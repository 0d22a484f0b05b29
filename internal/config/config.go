package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	AppName     = "myakuari"
	EnvFileName = "config.env"
)

// Backend selects how analysis requests leave the process.
type Backend string

const (
	// BackendProxy posts the request body to the inference proxy.
	BackendProxy Backend = "proxy"
	// BackendGemini calls the Gemini API directly through the SDK.
	BackendGemini Backend = "gemini"
)

// Config holds everything the bot needs at startup.
type Config struct {
	BotToken string

	// Analysis endpoint
	Backend        Backend
	Endpoint       string
	ProxyToken     string
	GeminiAPIKey   string
	Model          string
	SchemaVariant  string
	// RequestTimeout deliberately bounds each analysis call (default 120s)
	// so a stalled backend cannot hold a session busy forever. 0 removes
	// the client-side deadline and leaves only the transport's own limits.
	RequestTimeout time.Duration `env:"ANALYSIS_TIMEOUT" validate:"gte=0s"`

	// Generation parameter overrides. Nil keeps the variant default.
	Temperature     *float64 `env:"ANALYSIS_TEMPERATURE" validate:"omitempty,gte=0,lte=2"`
	TopP            *float64 `env:"ANALYSIS_TOP_P" validate:"omitempty,gte=0,lte=1"`
	TopK            *int     `env:"ANALYSIS_TOP_K" validate:"omitempty,gte=1"`
	MaxOutputTokens *int     `env:"ANALYSIS_MAX_OUTPUT_TOKENS" validate:"omitempty,gt=0"`

	// Image normalization
	ImageMaxWidth        int `env:"IMAGE_MAX_WIDTH" validate:"gt=0"`
	ImageMaxHeight       int `env:"IMAGE_MAX_HEIGHT" validate:"gt=0"`
	ImageMaxBytes        int `env:"IMAGE_MAX_BYTES" validate:"gt=0"`
	ImageMaxSourcePixels int `env:"IMAGE_MAX_SOURCE_PIXELS" validate:"gt=0"`
	ImageStrict          bool

	// Persistence
	DBPath    string
	SecretKey string

	// Rewarded sponsor slots
	SponsorFeedURL string        `env:"SPONSOR_FEED_URL" validate:"omitempty,url"`
	SponsorRefresh time.Duration `env:"SPONSOR_REFRESH" validate:"gt=0s"`
}

var validate = newValidator()

// newValidator reports fields by their environment variable name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// outOfRange lists every value that parsed but is not usable.
func (c *Config) outOfRange() []string {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			out = append(out, fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag()))
		}
	}
	return out
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from ./.env. Errors are ignored since the files may not
// exist. Variables already set in the environment win.
func LoadEnvFile() {
	if configBase, err := os.UserConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(configBase, AppName, EnvFileName))
	}
	_ = godotenv.Load()
}

// Load reads the configuration from the environment. It returns an error
// naming every missing required variable.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken:       os.Getenv("BOT_TOKEN"),
		Backend:        Backend(strings.ToLower(getEnv("ANALYSIS_BACKEND", string(BackendProxy)))),
		Endpoint:       os.Getenv("ANALYSIS_ENDPOINT"),
		ProxyToken:     os.Getenv("ANALYSIS_PROXY_TOKEN"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		Model:          getEnv("ANALYSIS_MODEL", "gemini-2.0-flash"),
		SchemaVariant:  getEnv("ANALYSIS_SCHEMA_VARIANT", "couple"),
		DBPath:         getEnv("MYAKUARI_DB_PATH", "myakuari.db"),
		SecretKey:      os.Getenv("MYAKUARI_SECRET_KEY"),
		SponsorFeedURL: os.Getenv("SPONSOR_FEED_URL"),
	}

	var errs []string
	var err error

	if cfg.RequestTimeout, err = getEnvDuration("ANALYSIS_TIMEOUT", 120*time.Second); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.SponsorRefresh, err = getEnvDuration("SPONSOR_REFRESH", 5*time.Minute); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ImageMaxWidth, err = getEnvInt("IMAGE_MAX_WIDTH", 1280); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ImageMaxHeight, err = getEnvInt("IMAGE_MAX_HEIGHT", 720); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ImageMaxBytes, err = getEnvInt("IMAGE_MAX_BYTES", 1_000_000); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ImageMaxSourcePixels, err = getEnvInt("IMAGE_MAX_SOURCE_PIXELS", 50_000_000); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.ImageStrict, err = getEnvBool("IMAGE_STRICT_LIMIT", true); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Temperature, err = getEnvFloatPtr("ANALYSIS_TEMPERATURE"); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.TopP, err = getEnvFloatPtr("ANALYSIS_TOP_P"); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.TopK, err = getEnvIntPtr("ANALYSIS_TOP_K"); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.MaxOutputTokens, err = getEnvIntPtr("ANALYSIS_MAX_OUTPUT_TOKENS"); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) == 0 {
		errs = append(errs, cfg.outOfRange()...)
	}
	if missing := cfg.missing(); len(missing) > 0 {
		errs = append(errs, "missing required config: "+strings.Join(missing, ", "))
	}
	switch cfg.Backend {
	case BackendProxy, BackendGemini:
	default:
		errs = append(errs, fmt.Sprintf("ANALYSIS_BACKEND must be %q or %q, got %q", BackendProxy, BackendGemini, cfg.Backend))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// missing returns the names of required variables that are not set.
// The proxy token is not listed: it may come from the secret store instead.
func (c *Config) missing() []string {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.SecretKey == "" {
		missing = append(missing, "MYAKUARI_SECRET_KEY")
	}
	switch c.Backend {
	case BackendProxy:
		if c.Endpoint == "" {
			missing = append(missing, "ANALYSIS_ENDPOINT")
		}
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	}
	return missing
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvIntPtr(key string) (*int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return nil, nil
	}
	n, err := getEnvInt(key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func getEnvFloatPtr(key string) (*float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return &f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
