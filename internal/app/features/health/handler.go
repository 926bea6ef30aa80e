package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/userauth/internal/app/system/timeouts"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client *mongo.Client
	Redis  redis.UniversalClient // nil when no Redis is configured
	Log    *zap.Logger
}

// NewHandler constructs a health Handler. rdb may be nil.
func NewHandler(client *mongo.Client, rdb redis.UniversalClient, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Redis:  rdb,
		Log:    logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "cache":"connected" }
//
// "cache" is omitted when Redis is not configured. If either backend is
// down: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…" }
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
	}

	if h.Redis != nil {
		resp.Cache = "connected"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			h.Log.Error("health-check: redis ping failed", zap.Error(err))
			resp.Cache = "disconnected"
			if resp.Status == "ok" {
				resp.Status = "error"
				resp.Message = "Cache unavailable"
				resp.Error = err.Error()
			}
		}
	}

	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
