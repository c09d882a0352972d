package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/session"
)

// Hosts create sessions from the map editor over plain HTTP; everything after
// that rides the websocket.

type createSessionRequest struct {
	MapID          string               `json:"mapId" binding:"required"`
	Name           string               `json:"name"`
	Config         domain.SessionConfig `json:"config"`
	QuestionBankID string               `json:"questionBankId"`
}

func (s *Server) createSessionHandler(identity session.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		hostID, err := identity.Resolve(c.Request.Context(), bearerToken(c))
		if err != nil {
			writeError(c, err)
			return
		}

		ss, err := s.service.session.CreateSession(c.Request.Context(), session.CreateSessionRequest{
			HostID:         hostID,
			MapID:          req.MapID,
			Name:           req.Name,
			Config:         req.Config,
			QuestionBankID: req.QuestionBankID,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, ss)
	}
}

func (s *Server) getSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ss, err := s.service.session.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ss)
	}
}

func (s *Server) getLeaderboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lb, err := s.service.session.GetLeaderboard(c.Request.Context(), c.Param("id"), 0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, lb)
	}
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"code": uint32(e.Code), "message": e.Message})
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}
