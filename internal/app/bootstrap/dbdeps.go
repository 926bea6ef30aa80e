// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/userauth/internal/app/system/ratelimit"
	"github.com/dalemusser/userauth/internal/app/system/workers"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Redis is nil when redis_addr is blank.
	Redis redis.UniversalClient

	// Workers is filled in by Startup and BuildHandler so Shutdown can stop them. It is a
	// pointer because WAFFLE passes DBDeps by value.
	Workers *Workers
}

// Workers are the background jobs started by Startup, plus the login
// limiter whose in-memory backends run cleanup goroutines.
type Workers struct {
	BlacklistCleanup *workers.Cleanup
	LoginLimiter     *ratelimit.LoginLimiter
}
