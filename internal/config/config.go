package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	FallbackGridFile string // path to the shipped grids.fallback.yaml (optional)
	UserGridFile     string // path to the user-editable grid list
	SettingsFile     string // path to the persisted settings file

	FetchTimeout       time.Duration // per-request timeout for grid info fetches
	RevalidateInterval time.Duration // interval to re-fetch saved grid infos

	// Command-line-equivalent overrides. LoginURI wins over GridChoice
	// when both are set.
	GridChoice       string // select this grid at startup (key, label or nickname)
	LoginURI         string // select the grid behind this login URI at startup
	LoginPage        string // override the splash page of the selected grid
	HelperURI        string // override the helper/economy URI
	UpdateServiceURL string // override the update-check base URL

	// Redis (optional cache of resolved grid infos; empty addr = disabled)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries (grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("GRIDMAN_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("GRIDMAN_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("GRIDMAN_LOG_LEVEL", "info"),
		PrettyLog: mustBool("GRIDMAN_PRETTY_LOG", true),

		// Grid list files
		FallbackGridFile: getenv("GRIDMAN_FALLBACK_GRID_FILE", ""),
		UserGridFile:     getenv("GRIDMAN_USER_GRID_FILE", "grids.user.yaml"),
		SettingsFile:     getenv("GRIDMAN_SETTINGS_FILE", "settings.yaml"),

		// Resolution behavior
		FetchTimeout:       mustDuration("GRIDMAN_FETCH_TIMEOUT", 10*time.Second),
		RevalidateInterval: mustDuration("GRIDMAN_REVALIDATE_INTERVAL", 24*time.Hour),

		// Overrides
		GridChoice:       getenv("GRIDMAN_GRID", ""),
		LoginURI:         getenv("GRIDMAN_LOGIN_URI", ""),
		LoginPage:        getenv("GRIDMAN_LOGIN_PAGE", ""),
		HelperURI:        getenv("GRIDMAN_HELPER_URI", ""),
		UpdateServiceURL: getenv("GRIDMAN_UPDATE_SERVICE_URL", ""),

		// Redis settings (optional)
		RedisAddr:           getenv("GRIDMAN_REDIS_ADDR", ""),
		RedisUser:           getenv("GRIDMAN_REDIS_USERNAME", "default"),
		RedisPassword:       getenv("GRIDMAN_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("GRIDMAN_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("GRIDMAN_ALLOWED_HOSTS", "")),
		AllowedCIDRS: splitAndTrim(getenv("GRIDMAN_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("GRIDMAN_TRUST_PROXY", false),
	}

	if cfg.UserGridFile == "" {
		panic("❌ FATAL: GRIDMAN_USER_GRID_FILE must not be empty")
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Describe returns a one-line summary for startup logging, with
// credentials left out.
func (c *Config) Describe() string {
	redis := "disabled"
	if c.RedisAddr != "" {
		redis = c.RedisAddr
	}
	return fmt.Sprintf("listen=%s user_grid_file=%s fallback=%s redis=%s",
		c.ListenPort, c.UserGridFile, c.FallbackGridFile, redis)
}
