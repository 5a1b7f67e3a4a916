// Package http holds the REST handlers next to the realtime socket: presence
// snapshot, call history, call settlement and session identity.
package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/app/orch"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	sessionUserKey = "userId"
	sessionNameKey = "username"
	maxHistory     = 500
)

type Handlers struct {
	Orch         *orch.Orchestrator
	Calls        core.CallLog
	ICEServers   []webrtc.ICEServer
	HistoryLimit int
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"online":    len(h.Orch.Online()),
		"liveCalls": len(h.Orch.LiveCalls()),
	})
}

func (h *Handlers) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.Orch.Online()})
}

func (h *Handlers) ICE(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.ICEServers})
}

type historyQuery struct {
	User  string `form:"user" binding:"required"`
	Limit int    `form:"limit" binding:"omitempty,min=1"`
}

func (h *Handlers) History(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required, limit must be positive"})
		return
	}
	uid, err := domain.ParseUserID(q.User)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = h.HistoryLimit
	}
	limit = min(limit, maxHistory)

	calls, err := h.Calls.History(c.Request.Context(), uid, limit)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("user", string(uid)).Msg("call history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h *Handlers) LiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Orch.LiveCalls()})
}

type settleRequest struct {
	Status string `json:"status" binding:"required"`
}

// SettleCall lets an external policy close a call: missed while ringing, or
// ended at any live point. Settled calls stay as they are.
func (h *Handlers) SettleCall(c *gin.Context) {
	id := domain.CallID(c.Param("id"))
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	status, err := domain.ParseCallStatus(req.Status)
	if err != nil || (status != domain.StatusMissed && status != domain.StatusEnded) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be missed or ended"})
		return
	}

	if status == domain.StatusMissed {
		err = h.Orch.MissCall(id, core.ReasonMissed)
	} else {
		err = h.Orch.TerminateCall(id)
	}
	switch {
	case err == nil:
		log.Info().Str("module", "transport.http").Str("call", string(id)).Str("status", string(status)).Msg("call settled")
		c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case !errors.Is(err, app.ErrCallNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.Calls.Get(c.Request.Context(), id)
	if errors.Is(err, core.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("call", string(id)).Msg("load call")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call log unavailable"})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": "call already settled", "status": rec.Status})
}

func (h *Handlers) GetSession(c *gin.Context) {
	s := sessions.Default(c)
	userID, _ := s.Get(sessionUserKey).(string)
	username, _ := s.Get(sessionNameKey).(string)
	c.JSON(http.StatusOK, gin.H{
		"userId":      userID,
		"username":    username,
		"clientToken": c.GetString("client_token"),
	})
}

type sessionRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"username"`
}

// SetSession remembers the identity a browser will claim on its socket.
func (h *Handlers) SetSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	user, err := domain.NewUser(req.UserID, req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := sessions.Default(c)
	s.Set(sessionUserKey, string(user.ID))
	s.Set(sessionNameKey, user.Username)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session not saved"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": user.ID, "username": user.Username})
}
