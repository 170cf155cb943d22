package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/suspectuso/usdt-tracker/internal/storage"
)

type createPaymentRequest struct {
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	CallbackURL string          `json:"callback_url"`
}

type userRequest struct {
	UserID int64 `json:"user_id"`
}

type paymentResponse struct {
	PaymentID       int64           `json:"payment_id"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	WalletAddress   string          `json:"wallet_address"`
	Description     string          `json:"description,omitempty"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
}

type confirmedResponse struct {
	TransactionHash string          `json:"transaction_hash"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	WalletAddress   string          `json:"wallet_address"`
	FromAddress     string          `json:"from_address,omitempty"`
	PaymentID       *int64          `json:"payment_id,omitempty"`
	ConfirmedAt     time.Time       `json:"confirmed_at"`
}

func newPaymentResponse(p *storage.PendingPayment) paymentResponse {
	return paymentResponse{
		PaymentID:       p.ID,
		Status:          string(p.Status),
		Amount:          p.Amount,
		Currency:        p.Currency,
		WalletAddress:   p.WalletAddress,
		Description:     p.Description,
		TransactionHash: p.TransactionHash,
		CreatedAt:       p.CreatedAt,
		ConfirmedAt:     p.ConfirmedAt,
		ExpiresAt:       p.ExpiresAt,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.storage.Ping(c.Request.Context()); err != nil {
		s.log.Error("health check", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": s.storage.Backend()})
}

const errInvalidAmount = "amount must be positive, at most 1000000000, with up to 6 decimals"

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID, ok := s.targetUser(c, req.UserID)
	if !ok {
		return
	}

	if err := storage.ValidateRequestAmount(req.Amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidAmount})
		return
	}

	if req.CallbackURL != "" && !validCallbackURL(req.CallbackURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callback_url must be an absolute http(s) URL"})
		return
	}

	ctx := c.Request.Context()
	wallet, err := s.storage.GetActiveWallet(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "user has no active wallet"})
		return
	}
	if err != nil {
		s.internalError(c, "get active wallet", err)
		return
	}

	p, err := s.storage.AddPendingPayment(ctx, storage.PendingParams{
		UserID:        userID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		WalletAddress: wallet.Address,
		Description:   req.Description,
		CallbackURL:   req.CallbackURL,
		TTL:           s.pendingTTL,
	})
	switch {
	case errors.Is(err, storage.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidAmount})
		return
	case errors.Is(err, storage.ErrUnsupportedCurrency):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported currency"})
		return
	case err != nil:
		s.internalError(c, "add pending payment", err)
		return
	}

	s.log.Info("payment created via api",
		"user_id", userID, "payment_id", p.ID, "amount", p.Amount.String(), "request_id", c.GetString(ctxRequestID))

	c.JSON(http.StatusCreated, newPaymentResponse(p))
}

func (s *Server) handleCheckPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	p, err := s.storage.GetPendingPayment(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !isSystem(c) && p.UserID != callerID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		s.internalError(c, "get pending payment", err)
		return
	}

	c.JSON(http.StatusOK, newPaymentResponse(p))
}

func (s *Server) handleGetPaymentWallet(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID, ok := s.targetUser(c, req.UserID)
	if !ok {
		return
	}

	wallet, err := s.storage.GetActiveWallet(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user has no active wallet"})
		return
	}
	if err != nil {
		s.internalError(c, "get active wallet", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        userID,
		"wallet_address": wallet.Address,
		"label":          wallet.Label,
	})
}

func (s *Server) handleCheckUserPayments(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID, ok := s.targetUser(c, req.UserID)
	if !ok {
		return
	}

	payments, err := s.storage.ListConfirmedPayments(c.Request.Context(), userID, 50)
	if err != nil {
		s.internalError(c, "list confirmed payments", err)
		return
	}

	out := make([]confirmedResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, confirmedResponse{
			TransactionHash: p.TransactionHash,
			Amount:          p.Amount,
			Currency:        p.Currency,
			WalletAddress:   p.WalletAddress,
			FromAddress:     p.FromAddress,
			PaymentID:       p.PendingID,
			ConfirmedAt:     p.ConfirmedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "payments": out})
}

func (s *Server) handleBalance(c *gin.Context) {
	requested, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || requested <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	userID, ok := s.targetUser(c, requested)
	if !ok {
		return
	}

	count, total, err := s.storage.PaymentStats(c.Request.Context(), userID)
	if err != nil {
		s.internalError(c, "payment stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"balance":  total,
		"currency": storage.CurrencyUSDT,
		"payments": count,
	})
}

func (s *Server) handleProcessPayments(c *gin.Context) {
	res, err := s.engine.RunOnce(c.Request.Context())
	if err != nil {
		s.internalError(c, "reconciliation pass", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// targetUser resolves which user a request acts for. A user key may only act
// for itself; the system key must name the user.
func (s *Server) targetUser(c *gin.Context, requested int64) (int64, bool) {
	if isSystem(c) {
		if requested <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return 0, false
		}
		return requested, true
	}

	caller := callerID(c)
	if requested != 0 && requested != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "api key does not belong to this user"})
		return 0, false
	}
	return caller, true
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.log.Error(op, "error", err, "request_id", c.GetString(ctxRequestID))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func validCallbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
