package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Credentials never have defaults inside code and must be provided via config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for cross-process dispatch claims
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Notification delivery
	DeliveryProvider string
	ResendAPIKey     string
	ResendBaseURL    string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPTLS          bool
	AlertFrom        string
	// Alert policy
	AlertThreshold time.Duration
	AlertUnit      string
	SweepBatchSize int
	SweepTimeout   time.Duration
	SweepInterval  time.Duration
	AlertClaimTTL  time.Duration
	// Client liveness policy
	LiveMode   string
	LiveGrace  time.Duration
	HistoryCap int

	MetricsEnabled bool
	// optional basic auth for /metrics
	MetricsUser string
	MetricsPass string
}

const (
	DefaultAlertFrom = "Live Well App <onboarding@resend.dev>"

	DeliveryResend = "resend"
	DeliverySMTP   = "smtp"
)

var (
	cfg    AppConfig
	loaded bool
	mu     sync.Mutex
)

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	return LoadFrom(filepath.Join("config", "config.json"))
}

// LoadFrom is Load with an explicit config.json location.
func LoadFrom(path string) AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// Precedence: config.json -> defaults -> .env / environment variable overrides
	var next AppConfig
	next.MetricsEnabled = true
	if err := loadJSONConfig(path, &next); err != nil {
		log.Printf("ignoring invalid %s: %v", path, err)
	}

	applyDefaults(&next)

	// .env only fills variables that are not already set in the process environment.
	_ = godotenv.Load()
	applyEnvOverrides(&next)

	cfg = next
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.Lock()
	ok := loaded
	c := cfg
	mu.Unlock()
	if !ok {
		return Load()
	}
	return c
}

// Set replaces the cached configuration. Used by tests and the CLI flag layer.
func Set(c AppConfig) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
	loaded = true
}

// Reset drops the cached configuration so the next Get reloads it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cfg = AppConfig{}
	loaded = false
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) (bool, bool) {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
		return false, false
	}
	getDuration := func(m map[string]any, key string) time.Duration {
		s := getString(m, key)
		if s == "" {
			return 0
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			log.Printf("config: invalid duration %s=%q: %v", key, s, err)
			return 0
		}
		return d
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	// Grouped sections first; flat keys at the top level are accepted for every group.
	section := func(name string) map[string]any {
		if m, ok := raw[name].(map[string]any); ok {
			return m
		}
		return raw
	}

	app := section("app")
	if v := getString(app, "AppPort"); v != "" {
		out.AppPort = v
	}
	if v := getInt(app, "RateLimitPerMinute"); v != 0 {
		out.RateLimitPerMinute = v
	}
	if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
		out.AllowedOrigins = list
	}
	if b, ok := getBool(app, "MetricsEnabled"); ok {
		out.MetricsEnabled = b
	}
	out.MetricsUser = getString(app, "MetricsUser")
	out.MetricsPass = getString(app, "MetricsPass")

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	dbs := section("database")
	out.DBDriver = getString(dbs, "DBDriver")
	out.DatabaseURI = getString(dbs, "DatabaseURI")
	out.DBHost = getString(dbs, "DBHost")
	out.DBPort = getString(dbs, "DBPort")
	out.DBUser = getString(dbs, "DBUser")
	out.DBPassword = getString(dbs, "DBPassword")
	out.DBName = getString(dbs, "DBName")

	rds := section("redis")
	out.RedisHost = getString(rds, "RedisHost")
	if v := getInt(rds, "RedisPort"); v != 0 {
		out.RedisPort = v
	}
	if v := getInt(rds, "RedisDB"); v != 0 {
		out.RedisDB = v
	}
	out.RedisPassword = getString(rds, "RedisPassword")

	lg := section("log")
	if v := getString(lg, "Level"); v != "" {
		out.LogLevel = v
	} else if v := getString(lg, "LogLevel"); v != "" {
		out.LogLevel = v
	}
	if v := getString(lg, "Path"); v != "" {
		out.LogPath = v
	} else if v := getString(lg, "LogPath"); v != "" {
		out.LogPath = v
	}
	if v := getString(lg, "GinMode"); v != "" {
		out.GinMode = v
	}
	if v := getString(lg, "GinPath"); v != "" {
		out.GinPath = v
	}
	if v := getInt(lg, "MaxSizeMB"); v != 0 {
		out.LogMaxSizeMB = v
	}
	if v := getInt(lg, "MaxBackups"); v != 0 {
		out.LogMaxBackups = v
	}
	if v := getInt(lg, "MaxAgeDays"); v != 0 {
		out.LogMaxAgeDays = v
	}
	if b, ok := getBool(lg, "Compress"); ok {
		out.LogCompress = b
	}

	dl := section("delivery")
	out.DeliveryProvider = getString(dl, "Provider")
	out.ResendAPIKey = getString(dl, "ResendAPIKey")
	out.ResendBaseURL = getString(dl, "ResendBaseURL")
	out.AlertFrom = getString(dl, "AlertFrom")

	sm := section("smtp")
	out.SMTPHost = getString(sm, "SMTPHost")
	if v := getInt(sm, "SMTPPort"); v != 0 {
		out.SMTPPort = v
	}
	out.SMTPUsername = getString(sm, "SMTPUsername")
	out.SMTPPassword = getString(sm, "SMTPPassword")
	if b, ok := getBool(sm, "SMTPTLS"); ok {
		out.SMTPTLS = b
	}

	al := section("alert")
	out.AlertThreshold = getDuration(al, "Threshold")
	out.AlertUnit = getString(al, "Unit")
	out.SweepBatchSize = getInt(al, "BatchSize")
	out.SweepTimeout = getDuration(al, "SweepTimeout")
	out.SweepInterval = getDuration(al, "SweepInterval")
	out.AlertClaimTTL = getDuration(al, "ClaimTTL")

	lv := section("liveness")
	out.LiveMode = getString(lv, "Mode")
	out.LiveGrace = getDuration(lv, "Grace")
	out.HistoryCap = getInt(lv, "HistoryCap")

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		switch c.DBDriver {
		case "postgres":
			c.DBPort = "5432"
		default:
			c.DBPort = "3306"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "livewell"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.DeliveryProvider == "" {
		c.DeliveryProvider = DeliveryResend
	}
	if c.ResendBaseURL == "" {
		c.ResendBaseURL = "https://api.resend.com"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.AlertFrom == "" {
		c.AlertFrom = DefaultAlertFrom
	}
	if c.AlertThreshold == 0 {
		c.AlertThreshold = 48 * time.Hour
	}
	if c.AlertUnit == "" {
		c.AlertUnit = "day"
	}
	if c.SweepBatchSize == 0 {
		c.SweepBatchSize = 5
	}
	if c.SweepTimeout == 0 {
		c.SweepTimeout = 25 * time.Second
	}
	if c.AlertClaimTTL == 0 {
		c.AlertClaimTTL = 2 * time.Minute
	}
	if c.LiveMode == "" {
		c.LiveMode = "calendar_day"
	}
	if c.LiveGrace == 0 {
		c.LiveGrace = 60 * time.Second
	}
	if c.HistoryCap == 0 {
		c.HistoryCap = 365
	}
	c.HistoryCap = clamp(c.HistoryCap, 100, 365)
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("METRICS_ENABLED", ""); v != "" {
		c.MetricsEnabled = v == "true"
	}
	if v := getEnv("METRICS_USER", ""); v != "" {
		c.MetricsUser = v
	}
	if v := getEnv("METRICS_PASS", ""); v != "" {
		c.MetricsPass = v
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("DELIVERY_PROVIDER", ""); v != "" {
		c.DeliveryProvider = strings.ToLower(v)
	}
	if v := getEnv("RESEND_API_KEY", ""); v != "" {
		c.ResendAPIKey = v
	}
	if v := getEnv("RESEND_BASE_URL", ""); v != "" {
		c.ResendBaseURL = v
	}
	if v := getEnv("SMTP_HOST", ""); v != "" {
		c.SMTPHost = v
	}
	if v := getEnv("SMTP_PORT", ""); v != "" {
		c.SMTPPort = mustParseInt(v)
	}
	if v := getEnv("SMTP_USERNAME", ""); v != "" {
		c.SMTPUsername = v
	}
	if v := getEnv("SMTP_PASSWORD", ""); v != "" {
		c.SMTPPassword = v
	}
	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = v == "true"
	}
	if v := getEnv("ALERT_FROM", ""); v != "" {
		c.AlertFrom = v
	}
	if v := getEnv("ALERT_THRESHOLD", ""); v != "" {
		c.AlertThreshold = mustParseDuration(v)
	}
	if v := getEnv("ALERT_UNIT", ""); v != "" {
		c.AlertUnit = strings.ToLower(v)
	}
	if v := getEnv("SWEEP_BATCH_SIZE", ""); v != "" {
		c.SweepBatchSize = mustParseInt(v)
	}
	if v := getEnv("SWEEP_TIMEOUT", ""); v != "" {
		c.SweepTimeout = mustParseDuration(v)
	}
	if v := getEnv("SWEEP_INTERVAL", ""); v != "" {
		c.SweepInterval = mustParseDuration(v)
	}
	if v := getEnv("ALERT_CLAIM_TTL", ""); v != "" {
		c.AlertClaimTTL = mustParseDuration(v)
	}
	if v := getEnv("LIVE_MODE", ""); v != "" {
		c.LiveMode = strings.ToLower(v)
	}
	if v := getEnv("LIVE_GRACE", ""); v != "" {
		c.LiveGrace = mustParseDuration(v)
	}
	if v := getEnv("HISTORY_CAP", ""); v != "" {
		c.HistoryCap = clamp(mustParseInt(v), 100, 365)
	}
}

// UnitDuration maps AlertUnit onto the granularity used for "missed units" in alert text.
func (c AppConfig) UnitDuration() time.Duration {
	switch c.AlertUnit {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func mustParseDuration(val string) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		// bare integers are seconds
		if secs, convErr := strconv.Atoi(val); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		log.Fatalf("invalid duration value %s: %v", val, err)
	}
	return d
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
