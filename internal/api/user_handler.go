package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/service"
)

// RegisterUserRoutes registers the user-facing routes.
func (h *Handler) RegisterUserRoutes(router *gin.RouterGroup) {
	router.POST("/users", h.Register)
	router.GET("/products", h.ListProducts)

	users := router.Group("/users/:id")
	{
		users.GET("/wallet", h.GetWallet)
		users.GET("/wallet/history", h.WalletHistory)
		users.GET("/commissions", h.ListCommissions)
		users.GET("/tasks/next", h.NextTask)
		users.POST("/tasks/:task_id/complete", h.CompleteTask)
		users.POST("/recharges", h.RequestRecharge)
	}
}

type registerRequest struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Username   string `json:"username"`
	ReferrerID *int64 `json:"referrer_id"`
}

// Register creates a user and wallet, recording the referrer on first registration.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	user, created, err := h.wallets.Register(c.Request.Context(), req.UserID, req.Username, req.ReferrerID)
	if err != nil {
		respondError(c, err)
		return
	}

	msg := "User already registered"
	if created {
		msg = "User registered"
	}
	c.JSON(http.StatusOK, NewSuccessResponse(msg, user))
}

// ListProducts returns the active catalog.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.tasks.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Products retrieved", products))
}

// GetWallet returns the user's balances.
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.wallets.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Wallet retrieved", newWalletView(w)))
}

// WalletHistory returns recent ledger entries, newest first.
func (h *Handler) WalletHistory(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}
	entries, err := h.wallets.History(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("History retrieved", entries))
}

// ListCommissions returns the user's commission records, newest first.
func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c, 20)
	if !ok {
		return
	}
	recs, err := h.commissions.ListCommissions(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Commissions retrieved", recs))
}

// NextTask assigns and prices the user's next task, or explains why it cannot.
// A block is a normal outcome and is returned with status 200.
func (h *Handler) NextTask(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var res *service.NextTaskResult
	err := h.withUserLock(c, userID, func() error {
		var err error
		res, err = h.tasks.NextTask(c.Request.Context(), userID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	msg := "Task assigned"
	if res.Block != nil {
		msg = res.Block.Message
	}
	c.JSON(http.StatusOK, NewSuccessResponse(msg, newNextTaskView(res)))
}

// CompleteTask completes a task. Repeating the call is safe.
func (h *Handler) CompleteTask(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	taskID, ok := pathID(c, "task_id")
	if !ok {
		return
	}

	var res *service.CompletionResult
	err := h.withUserLock(c, userID, func() error {
		var err error
		res, err = h.tasks.CompleteTask(c.Request.Context(), userID, taskID)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}

	msg := "Task completed"
	switch {
	case res.Warning != "":
		msg = res.Warning
	case res.AlreadyCompleted:
		msg = "Task already completed"
	}
	c.JSON(http.StatusOK, NewSuccessResponse(msg, newCompletionView(res)))
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// RequestRecharge files a recharge request for admin approval.
func (h *Handler) RequestRecharge(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	var rr *model.RechargeRequest
	err := h.withUserLock(c, userID, func() error {
		var err error
		rr, err = h.wallets.RequestRecharge(c.Request.Context(), userID, req.Amount)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse("Recharge requested", rr))
}

// pathID parses a positive integer path parameter, answering 400 on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, "Invalid "+name))
		return 0, false
	}
	return id, true
}

// queryLimit parses ?limit=, answering 400 on a malformed value.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw, exists := c.GetQuery("limit")
	if !exists {
		return def, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, "Invalid limit number"))
		return 0, false
	}
	return limit, true
}
