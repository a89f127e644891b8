package handler

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/pkg/response"
	"Fieldlink/internal/pkg/state"
	"Fieldlink/internal/service"

	"github.com/gin-gonic/gin"
)

type IMHandler struct {
	queue  service.DeliveryQueue
	chat   service.ChatService
	attach service.AttachmentService
	active *state.ActiveConversation
}

func NewIMHandler(
	queue service.DeliveryQueue,
	chat service.ChatService,
	attach service.AttachmentService,
	active *state.ActiveConversation,
) *IMHandler {
	return &IMHandler{queue: queue, chat: chat, attach: attach, active: active}
}

// SendMessage 消息入队接口。返回即表示已落盘，送达进度走观察流
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.EnqueueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	res, err := s.queue.Enqueue(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// RetryMessage 手动重试失败消息
func (s *IMHandler) RetryMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	if messageID == "" {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	if err := s.queue.Retry(c, messageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetChatHistory 获取历史消息
func (s *IMHandler) GetChatHistory(c *gin.Context) {
	var req dto.HistoryReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, err)
		return
	}

	res, err := s.chat.History(c, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetConversationList 获取会话列表
func (s *IMHandler) GetConversationList(c *gin.Context) {
	res, err := s.chat.Conversations(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkAsRead 标记会话已读
func (s *IMHandler) MarkAsRead(c *gin.Context) {
	var req dto.MarkAsReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	if err := s.chat.MarkRead(c, req.PeerID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PinConversation 置顶 / 取消置顶会话
func (s *IMHandler) PinConversation(c *gin.Context) {
	var req dto.PinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	if err := s.chat.SetPinned(c, req.PeerID, req.IsPinned); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ClearAll 登出清空本地消息库
func (s *IMHandler) ClearAll(c *gin.Context) {
	if err := s.chat.ClearAll(c); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// EnterConversation UI 进入聊天页，该会话的通知随之抑制
func (s *IMHandler) EnterConversation(c *gin.Context) {
	peerID := c.Param("peer_id")
	if peerID == "" {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	s.active.Set(peerID)
	response.Success(c, nil)
}

// LeaveConversation UI 离开聊天页
func (s *IMHandler) LeaveConversation(c *gin.Context) {
	s.active.Clear()
	response.Success(c, nil)
}

// RetryDownload 手动触发附件下载（含超过自动下载阈值的大附件）
func (s *IMHandler) RetryDownload(c *gin.Context) {
	messageID := c.Param("message_id")
	if messageID == "" {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	if err := s.attach.RetryDownload(c, messageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
