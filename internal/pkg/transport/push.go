package transport

import (
	"strconv"

	"github.com/pkg/errors"
)

// FromPushPayload 把推送通道的扁平字符串键值对重建成与实时事件同构的入站消息记录。
// 任一路径出现的字段在另一路径都必须能还原
func FromPushPayload(kv map[string]string) (*InboundMessage, error) {
	ev := &InboundMessage{
		ID:          kv["id"],
		SenderID:    kv["senderId"],
		Content:     kv["content"],
		MessageType: kv["messageType"],
		Timestamp:   kv["timestamp"],
	}
	if ev.ID == "" || ev.SenderID == "" || ev.Timestamp == "" {
		return nil, errors.New("push payload missing required keys")
	}

	if attID, ok := kv["attachmentId"]; ok && attID != "" {
		size, err := strconv.ParseInt(kv["attachmentSize"], 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid attachmentSize in push payload")
		}
		ev.Attachment = &Attachment{
			ID:       attID,
			Type:     kv["attachmentType"],
			MimeType: kv["attachmentMimeType"],
			Filename: kv["attachmentFilename"],
			Size:     size,
		}
	}
	return ev, nil
}
