package transport

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// EventKind 入站事件的封闭枚举，新增事件必须同时扩展 ParseFrame 与各分发器的 switch
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInboundMessage
	EventAck
	EventPresence
	EventTyping
	EventReadReceipt
)

// 网关事件名
const (
	wireInboundMessage = "message:new"
	wireAck            = "message:ack"
	wirePresence       = "presence:update"
	wireTyping         = "typing"
	wireReadReceipt    = "message:read"
)

// OutboundKind 出站事件名
type OutboundKind string

const (
	OutboundSend     OutboundKind = "message:send"
	OutboundAck      OutboundKind = "message:ack"
	OutboundPresence OutboundKind = "presence:update"
	OutboundTyping   OutboundKind = "typing"
	OutboundRead     OutboundKind = "message:read"
)

// Attachment 入站消息附件描述
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// InboundMessage 入站消息事件，推送兜底路径重建的记录与此完全同构
type InboundMessage struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	MessageType string      `json:"messageType"`
	Timestamp   string      `json:"timestamp"` // ISO-8601 UTC
}

// OutboundMessage 出站消息事件
type OutboundMessage struct {
	ID           string `json:"id,omitempty"`
	RecipientID  string `json:"recipientId"`
	Content      string `json:"content"`
	Type         string `json:"type"`
	AttachmentID string `json:"attachmentId,omitempty"`
}

// AckEvent 回执事件，双向同构：服务端确认送达，客户端确认收取
type AckEvent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// PresenceEvent 对端在线状态事件
type PresenceEvent struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TypingEvent 正在输入事件
type TypingEvent struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId,omitempty"`
	Typing bool   `json:"typing"`
}

// ReadReceiptEvent 对端已读回执，Timestamp 之前的消息全部视为已读
type ReadReceiptEvent struct {
	PeerID    string `json:"peerId"`
	Timestamp int64  `json:"timestamp"`
}

// Event 标签化事件变体，Kind 决定哪个载荷字段非空
type Event struct {
	Kind     EventKind
	Message  *InboundMessage
	Ack      *AckEvent
	Presence *PresenceEvent
	Typing   *TypingEvent
	Receipt  *ReadReceiptEvent
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseFrame 把网关帧解析成标签化事件。未知事件名不报错，交由上层按 EventUnknown 丢弃
func ParseFrame(raw []byte) (*Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "malformed gateway frame")
	}

	decode := func(v interface{}) error {
		if err := json.Unmarshal(f.Data, v); err != nil {
			return errors.Wrapf(err, "malformed %s payload", f.Event)
		}
		return nil
	}

	switch f.Event {
	case wireInboundMessage:
		ev := &InboundMessage{}
		if err := decode(ev); err != nil {
			return nil, err
		}
		return &Event{Kind: EventInboundMessage, Message: ev}, nil
	case wireAck:
		ev := &AckEvent{}
		if err := decode(ev); err != nil {
			return nil, err
		}
		return &Event{Kind: EventAck, Ack: ev}, nil
	case wirePresence:
		ev := &PresenceEvent{}
		if err := decode(ev); err != nil {
			return nil, err
		}
		return &Event{Kind: EventPresence, Presence: ev}, nil
	case wireTyping:
		ev := &TypingEvent{}
		if err := decode(ev); err != nil {
			return nil, err
		}
		return &Event{Kind: EventTyping, Typing: ev}, nil
	case wireReadReceipt:
		ev := &ReadReceiptEvent{}
		if err := decode(ev); err != nil {
			return nil, err
		}
		return &Event{Kind: EventReadReceipt, Receipt: ev}, nil
	default:
		return &Event{Kind: EventUnknown}, nil
	}
}

// ParseTimestamp 统一解析 ISO-8601 时间为毫秒时间戳
func ParseTimestamp(iso string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return 0, errors.Wrap(err, "invalid iso timestamp")
	}
	return t.UnixMilli(), nil
}
