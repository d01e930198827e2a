package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/registry"
	"github.com/openviewer/gridman/internal/selector"
)

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	AllowedHosts  []string           // Host headers allowed to access the server
	AllowedCIDRS  []string           // IPs allowed to access the API
	TrustProxy    bool               // true if running behind a trusted reverse proxy
	RedisClient   *redis.Client      // optional record cache connection (nil when disabled)
	Registry      *registry.Registry // shared grid registry
	Selector      *selector.Selector // grid selection and resolution front end
	ReloadTrigger chan struct{}      // channel to trigger manual grid revalidation
}
