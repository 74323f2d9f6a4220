package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sagebank/orchestrator/internal/confirm"
	"github.com/sagebank/orchestrator/internal/flow"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/validation"
)

const requestContextKey = "requestContext"

func (s *Server) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// tokenClaims are the identity claims carried in the gateway-issued bearer
// token. The gateway verifies signatures before requests reach this service;
// here the token is decoded, not verified.
type tokenClaims struct {
	AccountID string `json:"acct"`
	Username  string `json:"user"`
}

// parseClaims extracts identity claims from a JWT-shaped token without
// signature verification.
func parseClaims(token string) (*tokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("malformed token payload")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.New("malformed token claims")
	}
	if claims.AccountID == "" {
		return nil, errors.New("token missing account claim")
	}
	return &claims, nil
}

// authContextMiddleware turns the Authorization header into a typed
// RequestContext for downstream handlers.
func (s *Server) authContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required",
			})
			return
		}

		claims, err := parseClaims(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}

		c.Set(requestContextKey, flow.RequestContext{
			AccountID:      claims.AccountID,
			Username:       claims.Username,
			Token:          token,
			IdempotencyKey: c.GetHeader("Idempotency-Key"),
		})
		c.Next()
	}
}

func requestContext(c *gin.Context) flow.RequestContext {
	rc, _ := c.MustGet(requestContextKey).(flow.RequestContext)
	return rc
}

func (s *Server) queryHandler(c *gin.Context) {
	var req flow.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "query is required",
		})
		return
	}
	if len(req.Query) > validation.MaxQueryLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "query too long",
		})
		return
	}

	res := s.flow.ProcessQuery(c.Request.Context(), requestContext(c), req)
	c.JSON(statusCode(res.Status), res)
}

// statusCode maps flow outcomes to HTTP codes. Clarifications and blocks are
// well-formed conversational responses, not protocol errors.
func statusCode(st flow.Status) int {
	switch st {
	case flow.StatusProcessing:
		return http.StatusConflict
	case flow.StatusFailure:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

type verifyOTPRequest struct {
	ConfirmationID string `json:"confirmation_id" binding:"required"`
	OTP            string `json:"otp" binding:"required"`
}

func (s *Server) verifyOTPHandler(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "confirmation_id and otp are required",
		})
		return
	}
	if !validation.IsValidOTP(req.OTP) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "otp must be a 6-digit code",
		})
		return
	}

	rc := requestContext(c)
	if res := s.ownedConfirmation(c, req.ConfirmationID, rc); res == nil {
		return
	}

	result, err := s.confirmations.VerifyOTP(c.Request.Context(), req.ConfirmationID, req.OTP)
	if err != nil {
		if errors.Is(err, confirm.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		logging.L(c.Request.Context()).Error("otp verification failed",
			"confirmationId", req.ConfirmationID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "execution_failed",
			"message": "Verification succeeded but the transaction could not be completed. Contact support.",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) confirmHandler(c *gin.Context) {
	confirmationID := c.Param("confirmation_id")
	rc := requestContext(c)
	if res := s.ownedConfirmation(c, confirmationID, rc); res == nil {
		return
	}

	out, err := s.confirmations.Approve(c.Request.Context(), confirmationID)
	if err != nil {
		if errors.Is(err, confirm.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		logging.L(c.Request.Context()).Error("confirmation approval failed",
			"confirmationId", confirmationID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "execution_failed",
			"message": "Approval could not be completed. Contact support.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         string(out.Status),
		"transaction_id": out.TransactionID,
	})
}

func (s *Server) confirmationStatusHandler(c *gin.Context) {
	rc := requestContext(c)
	conf := s.ownedConfirmation(c, c.Param("confirmation_id"), rc)
	if conf == nil {
		return
	}
	c.JSON(http.StatusOK, conf)
}

// ownedConfirmation loads a confirmation and enforces that it belongs to the
// caller. Writes the error response and returns nil when it does not.
func (s *Server) ownedConfirmation(c *gin.Context, id string, rc flow.RequestContext) *confirm.Confirmation {
	conf, err := s.confirmations.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, confirm.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return nil
		}
		logging.L(c.Request.Context()).Error("confirmation lookup failed", "confirmationId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil
	}
	if conf.AccountID != rc.AccountID {
		// Do not reveal that the id exists.
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil
	}
	return conf
}

func (s *Server) streamHandler(c *gin.Context) {
	rc := requestContext(c)
	s.hub.HandleWebSocket(c.Writer, c.Request, rc.AccountID)
}
