package handler

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/pkg/response"
	"Fieldlink/internal/service"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presence service.PresenceService
}

func NewPresenceHandler(presence service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// SetStatus 上报本机在线状态
func (s *PresenceHandler) SetStatus(c *gin.Context) {
	var req dto.PresenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	if err := s.presence.SetStatus(c, req.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SetTyping 上报正在输入信号
func (s *PresenceHandler) SetTyping(c *gin.Context) {
	var req dto.TypingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	if err := s.presence.SetTyping(c, req.PeerID, req.Typing); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetPeers 对端状态快照
func (s *PresenceHandler) GetPeers(c *gin.Context) {
	response.Success(c, s.presence.Snapshot())
}
