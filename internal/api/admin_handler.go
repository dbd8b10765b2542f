package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/service"
)

// RegisterAdminRoutes registers the admin routes. The caller applies AdminAuth.
func (h *Handler) RegisterAdminRoutes(router *gin.RouterGroup) {
	router.GET("/recharges", h.ListPendingRecharges)
	router.POST("/recharges/:id/approve", h.ApproveRecharge)
	router.POST("/recharges/:id/reject", h.RejectRecharge)

	router.GET("/products", h.ListProducts)
	router.POST("/products", h.AddProduct)

	router.GET("/rankings/daily", h.DailyRanking)

	users := router.Group("/users/:id")
	{
		users.GET("/settings", h.GetSettings)
		users.PUT("/settings", h.UpdateSettings)
		users.POST("/adjust", h.AdjustBalance)
		users.POST("/reset", h.ResetCycle)

		users.GET("/stop-points", h.ListStopPoints)
		users.POST("/stop-points", h.AddStopPoints)
		users.PUT("/stop-points/:sp_id", h.UpdateStopPoint)
		users.DELETE("/stop-points/:sp_id", h.DeleteStopPoint)
	}
}

// ListPendingRecharges returns pending recharge requests, oldest first.
func (h *Handler) ListPendingRecharges(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}
	reqs, err := h.wallets.ListPendingRecharges(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Pending recharges retrieved", reqs))
}

// ApproveRecharge credits a pending recharge and applies it to any active stop point.
func (h *Handler) ApproveRecharge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.wallets.ApproveRecharge(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Recharge approved", gin.H{
		"request":    res.Request,
		"wallet":     newWalletView(res.Wallet),
		"stop_point": res.StopPoint,
		"remaining":  res.Remaining,
		"cleared":    res.Cleared,
	}))
}

// RejectRecharge rejects a pending recharge.
func (h *Handler) RejectRecharge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := h.wallets.RejectRecharge(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Recharge rejected", req))
}

type productRequest struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price"`
}

// AddProduct adds a product to the catalog.
func (h *Handler) AddProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}
	p, err := h.tasks.AddProduct(c.Request.Context(), req.Name, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Product added", p))
}

// DailyRanking returns the top commission earners for ?date=YYYY-MM-DD, today by default.
func (h *Handler) DailyRanking(c *gin.Context) {
	limit, ok := queryLimit(c, 10)
	if !ok {
		return
	}
	date := time.Now()
	if raw, exists := c.GetQuery("date"); exists {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, h.rankings.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, "Invalid date format, expected YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	ranks, err := h.rankings.TopEarnersForDate(c.Request.Context(), date, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Ranking retrieved", ranks))
}

// GetSettings returns the user's commission settings.
func (h *Handler) GetSettings(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	s, err := h.commissions.GetSettings(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Settings retrieved", s))
}

type settingsRequest struct {
	ProductRate    decimal.Decimal `json:"product_rate"`
	ReferralRate   decimal.Decimal `json:"referral_rate"`
	DailyTaskLimit int             `json:"daily_task_limit"`
}

// UpdateSettings sets the user's rates and daily task limit.
func (h *Handler) UpdateSettings(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	var s *model.CommissionSetting
	err := h.withUserLock(c, userID, func() error {
		var err error
		s, err = h.commissions.UpdateSettings(c.Request.Context(), userID, service.SettingsInput{
			ProductRate:    req.ProductRate,
			ReferralRate:   req.ReferralRate,
			DailyTaskLimit: req.DailyTaskLimit,
		})
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Settings updated", s))
}

// AdjustBalance applies a signed manual correction to the spendable balance.
func (h *Handler) AdjustBalance(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	var w *model.Wallet
	err := h.withUserLock(c, userID, func() error {
		var err error
		w, err = h.wallets.AdjustBalance(c.Request.Context(), userID, req.Amount, req.Note)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info().
		Int64("user_id", userID).
		Str("amount", req.Amount.String()).
		Str("operation", "adjust_balance").
		Msg("Admin operation executed")
	c.JSON(http.StatusOK, NewSuccessResponse("Balance adjusted", newWalletView(w)))
}

// ResetCycle clears the user's task cycle so the admin can configure a new one.
func (h *Handler) ResetCycle(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	err := h.withUserLock(c, userID, func() error {
		return h.tasks.ResetCycle(c.Request.Context(), userID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Task cycle reset", nil))
}

// ListStopPoints returns the user's stop points ordered by point.
func (h *Handler) ListStopPoints(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	sps, err := h.stops.ListStopPoints(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Stop points retrieved", sps))
}

type stopPointEntry struct {
	Point           int              `json:"point"`
	RequiredBalance *decimal.Decimal `json:"required_balance"`
	Bonus           *decimal.Decimal `json:"bonus"`
}

type addStopPointsRequest struct {
	StopPoints []stopPointEntry `json:"stop_points" binding:"required,min=1"`
}

// AddStopPoints adds a batch of stop points. Invalid entries are skipped and
// reported; the request fails only when nothing was added.
func (h *Handler) AddStopPoints(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req addStopPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	entries := make([]service.StopPointInput, 0, len(req.StopPoints))
	for _, e := range req.StopPoints {
		entries = append(entries, service.StopPointInput{
			Point:           e.Point,
			RequiredBalance: e.RequiredBalance,
			Bonus:           e.Bonus,
		})
	}

	var (
		created []*model.StopPoint
		skipped []service.SkippedEntry
	)
	err := h.withUserLock(c, userID, func() error {
		var err error
		created, skipped, err = h.stops.AddStopPoints(c.Request.Context(), userID, entries)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Stop points added", gin.H{
		"created": created,
		"skipped": skipped,
	}))
}

type updateStopPointRequest struct {
	Point           *int             `json:"point"`
	RequiredBalance *decimal.Decimal `json:"required_balance"`
	Bonus           *decimal.Decimal `json:"bonus"`
}

// UpdateStopPoint edits a stop point that has not been triggered.
func (h *Handler) UpdateStopPoint(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	spID, ok := pathID(c, "sp_id")
	if !ok {
		return
	}
	var req updateStopPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	var sp *model.StopPoint
	err := h.withUserLock(c, userID, func() error {
		var err error
		sp, err = h.stops.UpdateStopPoint(c.Request.Context(), userID, spID, service.StopPointUpdate{
			Point:           req.Point,
			RequiredBalance: req.RequiredBalance,
			Bonus:           req.Bonus,
		})
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Stop point updated", sp))
}

// DeleteStopPoint removes a stop point.
func (h *Handler) DeleteStopPoint(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	spID, ok := pathID(c, "sp_id")
	if !ok {
		return
	}
	err := h.withUserLock(c, userID, func() error {
		return h.stops.DeleteStopPoint(c.Request.Context(), userID, spID)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Stop point deleted", nil))
}
