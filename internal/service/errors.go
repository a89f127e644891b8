package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
)

var (
	ErrParamInvalid       = errors.New("参数错误")
	ErrMessageNotFound    = errors.New("消息不存在")
	ErrMessageNotRetrybl  = errors.New("消息当前状态不允许重试")
	ErrConversationAbsent = errors.New("会话不存在")
	ErrAttachmentMissing  = errors.New("媒体消息缺少附件信息")
	ErrAttachmentTooLarge = errors.New("附件超出大小限制")
	ErrDownloadNotReady   = errors.New("附件尚未就绪")
	ErrPayloadMalformed   = errors.New("入站消息格式非法")
	UnauthorizedError     = errors.New("权限不足")
	UnExpectedError       = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:       BadRequest,
	ErrMessageNotFound:    NotFound,
	ErrMessageNotRetrybl:  Conflict,
	ErrConversationAbsent: NotFound,
	ErrAttachmentMissing:  BadRequest,
	ErrAttachmentTooLarge: BadRequest,
	ErrDownloadNotReady:   Conflict,
	ErrPayloadMalformed:   BadRequest,
	UnauthorizedError:     Unauthorized,
	UnExpectedError:       InternalServerError,
}
