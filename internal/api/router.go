// Package api exposes the task engine over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"task-reward-engine/internal/pkg/lock"
	"task-reward-engine/internal/service"
)

// Dependencies holds everything the HTTP handlers need.
type Dependencies struct {
	Wallets     *service.WalletService
	Tasks       *service.TaskService
	StopPoints  *service.StopPointService
	Commissions *service.CommissionService
	Rankings    *service.RankingService
	UserLock    *lock.UserLock
	LockTimeout time.Duration
	AdminToken  string
	// HealthCheck reports storage health; nil means always healthy.
	HealthCheck func(*gin.Context) error
}

// Handler serves the API routes.
type Handler struct {
	wallets     *service.WalletService
	tasks       *service.TaskService
	stops       *service.StopPointService
	commissions *service.CommissionService
	rankings    *service.RankingService
	userLock    *lock.UserLock
	lockTimeout time.Duration
}

// NewHandler creates a Handler from its dependencies.
func NewHandler(deps *Dependencies) *Handler {
	userLock := deps.UserLock
	if userLock == nil {
		userLock = lock.NewUserLock()
	}
	timeout := deps.LockTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		wallets:     deps.Wallets,
		tasks:       deps.Tasks,
		stops:       deps.StopPoints,
		commissions: deps.Commissions,
		rankings:    deps.Rankings,
		userLock:    userLock,
		lockTimeout: timeout,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps *Dependencies) *gin.Engine {
	h := NewHandler(deps)

	router := gin.New()
	router.Use(gin.Recovery(), Logger(), Metrics())

	router.GET("/healthz", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, NewErrorResponse(http.StatusServiceUnavailable, "storage unavailable"))
				return
			}
		}
		c.JSON(http.StatusOK, NewSuccessResponse("ok", nil))
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		h.RegisterUserRoutes(v1)

		admin := v1.Group("/admin")
		admin.Use(AdminAuth(deps.AdminToken))
		{
			h.RegisterAdminRoutes(admin)
		}
	}

	return router
}

// withUserLock runs fn under the in-process lock for userID.
func (h *Handler) withUserLock(c *gin.Context, userID int64, fn func() error) error {
	return h.userLock.WithLockContext(c.Request.Context(), userID, h.lockTimeout, fn)
}
