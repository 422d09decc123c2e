package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/messaging"
	"github.com/BTreeMap/Kantei/internal/models"
)

// emptyTwiML acknowledges a webhook without a synchronous reply; replies go out over the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// twilioWebhookHandler processes one inbound WhatsApp message and acknowledges
// it once processing finished. Processing failures are answered to the user by
// the dispatcher and still acknowledged, so Twilio does not redeliver.
func (s *Server) twilioWebhookHandler(c *gin.Context) {
	ctx := c.Request.Context()

	if err := c.Request.ParseForm(); err != nil {
		s.logger.Warn("Server.twilioWebhookHandler: failed to parse form", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}
	if s.signature != nil {
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.signature.Validate(s.webhookURL, params, c.GetHeader("X-Twilio-Signature")) {
			s.logger.Warn("Server.twilioWebhookHandler: signature mismatch")
			c.JSON(http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}

	var form twilioWebhookForm
	if err := c.ShouldBind(&form); err != nil {
		s.logger.Warn("Server.twilioWebhookHandler: failed to bind form", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}
	if err := s.validate.Struct(form); err != nil {
		s.logger.Warn("Server.twilioWebhookHandler: validation failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": models.APIStatusError, "fields": validationErrorsToMap(err)})
		return
	}

	ev, err := s.twilio.InboundEvent(ctx, form.toWebhook())
	if err != nil {
		s.logger.Error("Server.twilioWebhookHandler: failed to build inbound event",
			zap.String("message_sid", form.MessageSid), zap.Error(err))
		// Dropping the attachment still lets the text, if any, through.
		owner, ownerErr := messaging.CanonicalOwner(form.From)
		if ownerErr != nil || form.Body == "" {
			c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
			return
		}
		ev = models.InboundEvent{EventID: form.MessageSid, OwnerID: owner, Text: form.Body, ReceivedAt: time.Now().UTC()}
	}

	res, err := s.dispatcher.Handle(ctx, ev)
	if err != nil {
		s.logger.Error("Server.twilioWebhookHandler: dispatch failed", zap.String("message_sid", form.MessageSid), zap.Error(err))
	} else {
		s.logger.Debug("Server.twilioWebhookHandler: dispatched",
			zap.String("message_sid", form.MessageSid), zap.Bool("duplicate", res.Duplicate), zap.Int("replies", len(res.Messages)))
	}
	c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
}

func (s *Server) sessionHandler(c *gin.Context) {
	owner, err := messaging.CanonicalOwner(c.Param("owner"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	sess, err := s.sessions.ActiveSession(c.Request.Context(), owner)
	if err != nil {
		s.logger.Error("Server.sessionHandler: failed to load session", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, models.Error("No active session"))
		return
	}
	c.JSON(http.StatusOK, models.Success(sess))
}

func (s *Server) identificationsHandler(c *gin.Context) {
	owner, err := messaging.CanonicalOwner(c.Param("owner"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	limit := DefaultIdentificationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := s.identifications.ListIdentifications(c.Request.Context(), owner, limit)
	if err != nil {
		s.logger.Error("Server.identificationsHandler: failed to list identifications", zap.String("owner_id", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.Error("Failed to list identifications"))
		return
	}
	if recs == nil {
		recs = []models.Identification{}
	}
	c.JSON(http.StatusOK, models.Success(recs))
}
