package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	_ "github.com/relaydesk/relaydesk/docs"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handler struct {
	sessions      *service.SessionService
	dispatcher    *service.Dispatcher
	events        *service.EventProcessor
	webhookSecret string
	logger        *slog.Logger
	server        *http.Server
}

type registerSessionRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

type sendMessageRequest struct {
	To          string             `json:"to" binding:"required"`
	ContentType domain.ContentType `json:"content_type"`
	Content     string             `json:"content" binding:"required"`
	MediaURL    string             `json:"media_url"`
}

type errorBody struct {
	Error string `json:"error"`
}

// @title Relaydesk API
// @version 1.0
// @description Multi-tenant messaging backend: session commands, outbound sends and the gateway event webhook
// @host localhost:6060
// @BasePath /
func NewHttpHandler(addr, webhookSecret string, sessions *service.SessionService, dispatcher *service.Dispatcher, events *service.EventProcessor, logger *slog.Logger) *Handler {
	h := &Handler{
		sessions:      sessions,
		dispatcher:    dispatcher,
		events:        events,
		webhookSecret: webhookSecret,
		logger:        logger,
	}

	// create router
	router := gin.Default()

	// register routes
	tenants := router.Group("/tenants/:tenantId")
	tenants.POST("/sessions", h.registerSession)
	tenants.GET("/sessions/:sessionId", h.getSession)
	tenants.POST("/sessions/:sessionId/connect", h.connectSession)
	tenants.POST("/sessions/:sessionId/disconnect", h.disconnectSession)
	tenants.POST("/sessions/:sessionId/messages", h.sendMessage)
	router.POST("/webhook/:tenantId", h.webhook)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// create http server
	h.server = &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	return h
}

func (h *Handler) Run() error {
	return h.server.ListenAndServe()
}

func (h *Handler) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterSession godoc
// @Summary Register a new session
// @Description Creates a session record for the tenant and announces it to the gateway
// @Tags Sessions
// @Param tenantId path string true "Tenant id"
// @Param body body registerSessionRequest true "Session attributes"
// @Success 201 {object} domain.Session
// @Router /tenants/{tenantId}/sessions [post]
func (h *Handler) registerSession(c *gin.Context) {
	var req registerSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	session, err := h.sessions.Register(c.Request.Context(), c.Param("tenantId"), req.DisplayName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// GetSession godoc
// @Summary Get one session
// @Tags Sessions
// @Param tenantId path string true "Tenant id"
// @Param sessionId path string true "Session id"
// @Success 200 {object} domain.Session
// @Router /tenants/{tenantId}/sessions/{sessionId} [get]
func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("tenantId"), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ConnectSession godoc
// @Summary Connect a session to the messaging network
// @Description Issues a connect command to the gateway; pairing completes asynchronously via events
// @Tags Sessions
// @Param tenantId path string true "Tenant id"
// @Param sessionId path string true "Session id"
// @Success 202 {object} domain.Session
// @Router /tenants/{tenantId}/sessions/{sessionId}/connect [post]
func (h *Handler) connectSession(c *gin.Context) {
	session, err := h.sessions.Connect(c.Request.Context(), c.Param("tenantId"), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, session)
}

// DisconnectSession godoc
// @Summary Disconnect a session
// @Tags Sessions
// @Param tenantId path string true "Tenant id"
// @Param sessionId path string true "Session id"
// @Success 200 {object} domain.Session
// @Router /tenants/{tenantId}/sessions/{sessionId}/disconnect [post]
func (h *Handler) disconnectSession(c *gin.Context) {
	session, err := h.sessions.Disconnect(c.Request.Context(), c.Param("tenantId"), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// SendMessage godoc
// @Summary Send an outbound message
// @Description Dispatches a message through the session's gateway connection
// @Tags Messages
// @Param tenantId path string true "Tenant id"
// @Param sessionId path string true "Session id"
// @Param body body sendMessageRequest true "Message payload"
// @Success 201 {object} domain.Message
// @Router /tenants/{tenantId}/sessions/{sessionId}/messages [post]
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	message, err := h.dispatcher.Send(c.Request.Context(), c.Param("tenantId"), c.Param("sessionId"),
		req.To, req.ContentType, req.Content, req.MediaURL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// Webhook godoc
// @Summary Gateway event webhook
// @Description Receives session and message events from the gateway. Authenticated with an HMAC-SHA256 body signature.
// @Tags Events
// @Param tenantId path string true "Tenant id"
// @Success 200
// @Router /webhook/{tenantId} [post]
func (h *Handler) webhook(c *gin.Context) {
	tenantID := c.Param("tenantId")

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return
	}

	if ok, reason := h.verifySignature(c, raw); !ok {
		c.JSON(http.StatusForbidden, errorBody{Error: reason})
		return
	}

	event, err := domain.ParseEvent(raw)
	if err != nil {
		// unknown or malformed events are acknowledged so the gateway does
		// not redeliver them forever
		h.logger.Warn("discarding undecodable webhook event",
			slog.String("tenantId", tenantID), "error", err.Error())
		c.Status(http.StatusOK)
		return
	}

	if err := h.events.Apply(c.Request.Context(), tenantID, event); err != nil {
		// store-level failure: signal the gateway to redeliver this event
		h.logger.Error("event application failed",
			slog.String("tenantId", tenantID),
			slog.String("event", string(event.EventType())),
			"error", err.Error())
		c.JSON(http.StatusInternalServerError, errorBody{Error: "event application failed"})
		return
	}

	c.Status(http.StatusOK)
}

// verifySignature validates the raw body against X-Signature-256. The
// gateway signs every delivery with the shared internal secret.
func (h *Handler) verifySignature(c *gin.Context, rawBody []byte) (bool, string) {
	if h.webhookSecret == "" {
		return false, "webhook secret not configured"
	}

	sig := strings.TrimSpace(c.GetHeader("X-Signature-256"))
	if sig == "" {
		return false, "missing X-Signature-256"
	}
	if !strings.HasPrefix(sig, "sha256=") {
		return false, "invalid X-Signature-256 format"
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return false, "invalid signature hex"
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	_, _ = mac.Write(rawBody)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return false, "signature mismatch"
	}

	return true, ""
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotConnected),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrBudgetExhausted):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrGatewayRejected):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, errorBody{Error: err.Error()})
}
