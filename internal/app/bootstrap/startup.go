// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"time"

	"github.com/dalemusser/userauth/internal/app/store/revoked"
	"github.com/dalemusser/userauth/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// blacklistCleanupInterval is how often expired blacklist entries are swept
// from Mongo. The TTL index removes them too; the sweep keeps the collection
// small between TTL monitor passes.
const blacklistCleanupInterval = time.Hour

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
//
// When the token blacklist lives in Mongo, a cleanup worker is started.
// Redis entries expire on their own.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Redis != nil || deps.Workers == nil {
		return nil
	}

	store := revoked.NewMongo(deps.MongoDatabase)
	w := workers.NewCleanup("token_blacklist", store.CleanupExpired, logger, blacklistCleanupInterval)
	w.Start()
	deps.Workers.BlacklistCleanup = w

	return nil
}
