package handler

import (
	"Fieldlink/internal/pkg/response"
	"Fieldlink/internal/service"

	"github.com/gin-gonic/gin"
)

type PushHandler struct {
	ingest service.IngestService
}

func NewPushHandler(ingest service.IngestService) *PushHandler {
	return &PushHandler{ingest: ingest}
}

// Wake 系统推送唤醒入口。宿主收到平台推送后把数据载荷原样转发进来
func (s *PushHandler) Wake(c *gin.Context) {
	var payload map[string]string
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, service.ErrPayloadMalformed)
		return
	}

	if err := s.ingest.HandlePushWake(c, payload); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
