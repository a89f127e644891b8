package consts

import "time"

const (
	MimePrefixImage = "image"
	MimePrefixAudio = "audio"
	MimePrefixVideo = "video"
)

// 投递队列策略常量
const (
	MaxSendRetries   = 5                // 重试预算耗尽后转 FAILED
	DrainInterval    = 2 * time.Second  // 队列轮询间隔
	AckWait          = 10 * time.Second // 单次发送等待回执的上限，超时计为一次失败
	RetryBackoffBase = 2 * time.Second  // 指数退避基数
	RetryBackoffCap  = 5 * time.Minute
	RetryJitterRatio = 0.2
)

// 入站消息处理策略常量
const (
	PushConnectWait      = 5 * time.Second // 推送唤醒后等待实时通道连接的总预算
	AutoDownloadMaxBytes = 5 << 20         // 小于该值的附件自动排队下载，否则等待用户触发
)

// 附件管线策略常量
const (
	MaxAttachmentBytes = 100 << 20 // 超过该值的附件直接拒绝入队
	UploadAttempts     = 3
	UploadWorkers      = 3
	DownloadWorkers    = 2
	PendingUploadTTL   = 24 * time.Hour
)
