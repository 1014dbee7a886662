package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salespulse/sp-ingest/internal/api/rest/dto"
	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/ingest"
	"github.com/salespulse/sp-ingest/internal/logger"
	"github.com/salespulse/sp-ingest/internal/ratelimit"
	"github.com/salespulse/sp-ingest/internal/signature"
	"github.com/salespulse/sp-ingest/internal/store"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// MAX_BODY_BYTES bounds an inbound delivery body (1 MiB)
const MAX_BODY_BYTES = 1 << 20

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
type Handler interface {
	// ReceiveWebhook ingests one inbound delivery
	// POST /webhook?connection_id=<id>[&force=true]
	ReceiveWebhook(c *gin.Context)

	// CreateConnection registers a new webhook connection (requires authentication)
	// POST /api/v1/connections
	CreateConnection(c *gin.Context)

	// GetConnection retrieves a connection by ID (requires authentication)
	// GET /api/v1/connections/:id
	GetConnection(c *gin.Context)

	// ListDeliveries retrieves the connection's recent audit entries (requires authentication)
	// GET /api/v1/connections/:id/deliveries?limit=<limit>&offset=<offset>
	ListDeliveries(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store    store.Store
	limiter  ratelimit.Limiter
	verifier *signature.Verifier
	pipeline *ingest.Pipeline
	timeout  time.Duration
}

// NewHandler creates a new REST API handler. timeout bounds per-delivery
// processing; zero disables the bound.
func NewHandler(s store.Store, limiter ratelimit.Limiter, verifier *signature.Verifier, pipeline *ingest.Pipeline, timeout time.Duration) Handler {
	return &handler{
		store:    s,
		limiter:  limiter,
		verifier: verifier,
		pipeline: pipeline,
		timeout:  timeout,
	}
}

// ReceiveWebhook ingests one inbound delivery. The request is admitted in a
// fixed order: connection lookup, rate limit, signature, then payload parsing.
// The signature is verified against the exact raw body bytes.
func (h *handler) ReceiveWebhook(c *gin.Context) {
	connectionID := c.Query("connection_id")
	if connectionID == "" {
		respondBadRequest(c, "connection_id is required")
		return
	}
	force := c.Query("force") == "true"

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MAX_BODY_BYTES))
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return
	}

	ctx := c.Request.Context()
	sourceIP := c.ClientIP()

	conn, err := h.store.GetConnectionByID(ctx, connectionID)
	if err != nil {
		respondInternalError(c, err, "Failed to load connection")
		return
	}
	if conn == nil {
		respondNotFound(c, "Connection not found or inactive")
		return
	}
	if !conn.IsActive {
		h.pipeline.LogRejection(ctx, conn.ID, sourceIP, domain.ErrConnectionInactive.Error(), false)
		respondNotFound(c, "Connection not found or inactive")
		return
	}

	limit := h.limiter.Allow(ctx, conn.ID, sourceIP, conn.RateLimitPerMinute)
	if !limit.Allowed {
		reason := domain.ErrRateLimited.Error()
		if limit.FailedClosed {
			reason = "rate limiter unavailable"
		}
		h.pipeline.LogRejection(ctx, conn.ID, sourceIP, reason, true)
		respondRateLimited(c, retryAfterSeconds(limit.RetryAfter))
		return
	}

	header := firstHeader(c, signature.HeaderCandidates(conn.SignatureScheme, conn.Kind))
	verdict := h.verifier.Verify(conn.SignatureScheme, conn.SignatureSecret, body, header)
	if !verdict.Valid {
		h.pipeline.LogRejection(ctx, conn.ID, sourceIP, fmt.Sprintf("%s: %s", domain.ErrInvalidSignature, verdict.Reason), false)
		respondUnauthorized(c, "Signature verification failed", string(verdict.Reason))
		return
	}
	if verdict.Reason == signature.ReasonNoKeyConfigured {
		logger.WarnCtx(ctx, "Signature scheme enabled but no secret configured, accepting delivery",
			zap.String("connection_id", conn.ID),
		)
	}

	payload, err := ingest.ParsePayload(body)
	if err != nil {
		h.pipeline.LogRejection(ctx, conn.ID, sourceIP, err.Error(), false)
		respondBadRequest(c, "Malformed JSON payload")
		return
	}

	procCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.pipeline.Process(procCtx, &ingest.Delivery{
		Connection: conn,
		Body:       body,
		Payload:    payload,
		Headers:    ingest.SanitizeHeaders(c.Request.Header),
		SourceIP:   sourceIP,
		Force:      force,
	})
	if err != nil {
		respondInternalError(c, err, "Failed to process delivery",
			zap.String("connection_id", conn.ID),
		)
		return
	}

	c.JSON(http.StatusOK, dto.NewWebhookResponse(result))
}

// CreateConnection registers a new webhook connection (requires authentication)
func (h *handler) CreateConnection(c *gin.Context) {
	var req dto.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Validate request body
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	conn := &schema.Connection{
		ID:                 uuid.NewString(),
		OrganizationID:     req.OrganizationID,
		Name:               req.Name,
		Kind:               domain.ConnectionKind(req.Kind),
		SignatureScheme:    domain.SignatureScheme(req.SignatureScheme),
		SignatureSecret:    req.SignatureSecret,
		RateLimitPerMinute: req.RateLimitPerMinute,
		DatasetID:          req.DatasetID,
		IsActive:           true,
	}

	if err := h.store.CreateConnection(c.Request.Context(), conn); err != nil {
		respondInternalError(c, err, "Failed to create connection")
		return
	}

	c.JSON(http.StatusCreated, dto.NewConnectionResponse(conn))
}

// GetConnection retrieves a connection by ID (requires authentication)
func (h *handler) GetConnection(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Connection ID is required")
		return
	}

	conn, err := h.store.GetConnectionByID(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to get connection")
		return
	}
	if conn == nil {
		respondNotFound(c, "Connection not found")
		return
	}

	c.JSON(http.StatusOK, dto.NewConnectionResponse(conn))
}

// ListDeliveries retrieves the connection's recent audit entries (requires authentication)
func (h *handler) ListDeliveries(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Connection ID is required")
		return
	}

	limit, err := positiveIntQuery(c, "limit", 50, 200)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}
	offset, err := positiveIntQuery(c, "offset", 0, 0)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	conn, err := h.store.GetConnectionByID(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to get connection")
		return
	}
	if conn == nil {
		respondNotFound(c, "Connection not found")
		return
	}

	entries, err := h.store.ListDeliveryLogs(c.Request.Context(), id, limit, offset)
	if err != nil {
		respondInternalError(c, err, "Failed to list deliveries")
		return
	}

	c.JSON(http.StatusOK, dto.NewListDeliveriesResponse(entries, limit, offset))
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "sp-ingest-api",
	})
}

// firstHeader returns the first non-empty header from the candidate list
func firstHeader(c *gin.Context, candidates []string) string {
	for _, name := range candidates {
		if value := c.GetHeader(name); value != "" {
			return value
		}
	}
	return ""
}

// retryAfterSeconds renders a retry delay as whole seconds, rounded up so a
// sub-second delay never becomes Retry-After: 0
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// positiveIntQuery parses a non-negative integer query parameter with a
// default and an optional upper bound (0 means unbounded)
func positiveIntQuery(c *gin.Context, name string, def, bound int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	if bound > 0 && value > bound {
		value = bound
	}
	return value, nil
}
