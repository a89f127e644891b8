package service

import (
	"Fieldlink/internal/api/dto"
	"Fieldlink/internal/model"
	"Fieldlink/internal/pkg/auth"
	"Fieldlink/internal/pkg/consts"
	"Fieldlink/internal/pkg/minio"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadCallback 上传结果回调，由投递队列实现：
// 上传确认后消息回到发送管线，上传失败消息整体转失败态
type UploadCallback interface {
	OnUploadDone(ctx context.Context, messageID, attachmentID string)
	OnUploadFailed(ctx context.Context, messageID string, cause error)
}

// AttachmentService 附件传输管线。消息引擎不碰字节流，
// 这里的工作池负责对象存储上传/下载与后端登记
type AttachmentService interface {
	Uploader
	SetCallback(cb UploadCallback)
	RetryDownload(ctx context.Context, messageID string) error
	Resume(ctx context.Context) error
	Run(ctx context.Context) error
	SweepExpired(ctx context.Context)
}

type attachmentServiceImpl struct {
	uploadRepo  repository.UploadRepo
	msgRepo     repository.MessageRepo
	creds       auth.Provider
	http        *resty.Client
	hub         *observe.Hub
	downloadDir string
	cb          UploadCallback

	uploadChan   chan string
	downloadChan chan string
}

func NewAttachmentService(
	uploadRepo repository.UploadRepo,
	msgRepo repository.MessageRepo,
	creds auth.Provider,
	hub *observe.Hub,
	backendBaseURL string,
	downloadDir string,
) AttachmentService {
	return &attachmentServiceImpl{
		uploadRepo:   uploadRepo,
		msgRepo:      msgRepo,
		creds:        creds,
		http:         resty.New().SetBaseURL(backendBaseURL).SetTimeout(30 * time.Second),
		hub:          hub,
		downloadDir:  downloadDir,
		uploadChan:   make(chan string, 256),
		downloadChan: make(chan string, 256),
	}
}

// SetCallback 注入上传回调。队列与管线互相引用，构造后补接
func (s *attachmentServiceImpl) SetCallback(cb UploadCallback) {
	s.cb = cb
}

// Begin 登记一条在途上传并排队。消息行此刻已是 UPLOADING
func (s *attachmentServiceImpl) Begin(ctx context.Context, msg *model.Message, req *dto.AttachmentReq) error {
	up := &model.PendingUpload{
		MessageID:     msg.ID,
		LocalFilePath: req.LocalPath,
		FileName:      req.FileName,
		MimeType:      req.MimeType,
		FileType:      fileTypeOf(req),
		FileSize:      req.Size,
		Status:        model.UploadPending,
		FileKey:       minio.ObjectKey(uuid.NewString() + filepath.Ext(req.FileName)),
		ExpiresAt:     repository.NowMillis() + consts.PendingUploadTTL.Milliseconds(),
	}
	if err := s.uploadRepo.Create(ctx, up); err != nil {
		log.ErrorContext(ctx, "上传记录落盘失败", "message_id", msg.ID, "err", err)
		return UnExpectedError
	}

	select {
	case s.uploadChan <- msg.ID:
	default:
		// 队列打满就留在 PENDING，续传扫描会再捡起来
		log.WarnContext(ctx, "上传工作队列已满，留待续传扫描", "message_id", msg.ID)
	}
	return nil
}

// fileTypeOf UI 未显式给出分类时按 MIME 主类型推断
func fileTypeOf(req *dto.AttachmentReq) string {
	if req.FileType != "" {
		return req.FileType
	}
	switch {
	case strings.HasPrefix(req.MimeType, consts.MimePrefixImage):
		return "image"
	case strings.HasPrefix(req.MimeType, consts.MimePrefixAudio):
		return "audio"
	case strings.HasPrefix(req.MimeType, consts.MimePrefixVideo):
		return "video"
	default:
		return "file"
	}
}

// QueueDownload 排队一次附件下载
func (s *attachmentServiceImpl) QueueDownload(messageID string) {
	select {
	case s.downloadChan <- messageID:
	default:
		log.Warn("下载工作队列已满，留待续传扫描", "message_id", messageID)
	}
}

// RetryDownload 用户显式触发大附件或失败附件的下载
func (s *attachmentServiceImpl) RetryDownload(ctx context.Context, messageID string) error {
	ok, err := s.msgRepo.SetDownloadStatus(ctx, messageID,
		[]string{model.DownloadNotStarted, model.DownloadFailedState},
		model.DownloadPending, "")
	if err != nil {
		return UnExpectedError
	}
	if !ok {
		return ErrDownloadNotReady
	}
	s.QueueDownload(messageID)
	return nil
}

// Resume 进程重启后恢复所有在途传输
func (s *attachmentServiceImpl) Resume(ctx context.Context) error {
	ups, err := s.uploadRepo.ListResumable(ctx)
	if err != nil {
		return err
	}
	for _, up := range ups {
		// 上次进程中断留下的中间态统一回 PENDING 重走
		_, _ = s.uploadRepo.CASStatus(ctx, up.MessageID,
			[]string{model.UploadInProgress, model.UploadConfirming},
			map[string]interface{}{"status": model.UploadPending})
		select {
		case s.uploadChan <- up.MessageID:
		default:
		}
	}

	downloads, err := s.msgRepo.ListPendingDownloads(ctx)
	if err != nil {
		return err
	}
	for _, m := range downloads {
		_, _ = s.msgRepo.SetDownloadStatus(ctx, m.ID,
			[]string{model.DownloadInProgress}, model.DownloadPending, "")
		s.QueueDownload(m.ID)
	}

	if len(ups) > 0 || len(downloads) > 0 {
		log.InfoContext(ctx, "在途附件传输已恢复", "uploads", len(ups), "downloads", len(downloads))
	}
	return nil
}

// Run 启动上传/下载工作池并阻塞到 ctx 结束
func (s *attachmentServiceImpl) Run(ctx context.Context) error {
	for i := 0; i < consts.UploadWorkers; i++ {
		go s.uploadWorker(ctx)
	}
	for i := 0; i < consts.DownloadWorkers; i++ {
		go s.downloadWorker(ctx)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *attachmentServiceImpl) uploadWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case messageID := <-s.uploadChan:
			s.processUpload(ctx, messageID)
		}
	}
}

func (s *attachmentServiceImpl) downloadWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case messageID := <-s.downloadChan:
			s.processDownload(ctx, messageID)
		}
	}
}

// processUpload 单条上传任务：对象存储写入 → 后端登记换取 attachmentId。
// 有限次内部重试，全败后上传记录与消息一起转失败态
func (s *attachmentServiceImpl) processUpload(ctx context.Context, messageID string) {
	up, err := s.uploadRepo.Get(ctx, messageID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.ErrorContext(ctx, "上传记录读取失败", "message_id", messageID, "err", err)
		}
		return
	}
	if up.Status == model.UploadDone || up.Status == model.UploadFailed {
		return
	}

	backoff := time.Second
	var lastErr error
	for i := 0; i < consts.UploadAttempts; i++ {
		lastErr = s.uploadOnce(ctx, up)
		if lastErr == nil {
			return
		}
		log.WarnContext(ctx, "上传尝试失败", "message_id", messageID, "attempt", i+1, "err", lastErr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	_, _ = s.uploadRepo.CASStatus(ctx, messageID,
		[]string{model.UploadPending, model.UploadInProgress, model.UploadConfirming},
		map[string]interface{}{"status": model.UploadFailed, "error": lastErr.Error()})
	if s.cb != nil {
		s.cb.OnUploadFailed(ctx, messageID, lastErr)
	}
}

func (s *attachmentServiceImpl) uploadOnce(ctx context.Context, up *model.PendingUpload) error {
	ok, err := s.uploadRepo.CASStatus(ctx, up.MessageID,
		[]string{model.UploadPending, model.UploadInProgress},
		map[string]interface{}{"status": model.UploadInProgress})
	if err != nil {
		return err
	}
	if !ok {
		// 状态已被并发任务或过期清扫推进，放弃本次
		return errors.New("upload no longer in progressable state")
	}

	f, err := os.Open(up.LocalFilePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := minio.UploadFile(ctx, up.FileKey, f, up.FileSize, up.MimeType); err != nil {
		return err
	}
	_ = s.uploadRepo.UpdateProgress(ctx, up.MessageID, up.FileSize)

	if _, err := s.uploadRepo.CASStatus(ctx, up.MessageID,
		[]string{model.UploadInProgress},
		map[string]interface{}{"status": model.UploadConfirming}); err != nil {
		return err
	}

	attachmentID, err := s.confirm(ctx, up)
	if err != nil {
		return err
	}

	if _, err := s.uploadRepo.CASStatus(ctx, up.MessageID,
		[]string{model.UploadConfirming},
		map[string]interface{}{"status": model.UploadDone, "attachment_id": attachmentID}); err != nil {
		return err
	}

	log.InfoContext(ctx, "附件上传完成", "message_id", up.MessageID, "attachment_id", attachmentID)
	if s.cb != nil {
		s.cb.OnUploadDone(ctx, up.MessageID, attachmentID)
	}
	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, MessageID: up.MessageID})
	return nil
}

type confirmResp struct {
	AttachmentID string `json:"attachment_id"`
}

// confirm 向后端登记对象，换取服务端 attachmentId
func (s *attachmentServiceImpl) confirm(ctx context.Context, up *model.PendingUpload) (string, error) {
	var out confirmResp
	err := s.creds.Execute(ctx, func(token string) error {
		resp, err := s.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]interface{}{
				"file_key":  up.FileKey,
				"file_name": up.FileName,
				"mime_type": up.MimeType,
				"file_type": up.FileType,
				"size":      up.FileSize,
			}).
			SetResult(&out).
			Post("/api/attachments")
		if err != nil {
			return err
		}
		if resp.StatusCode() == 401 {
			return auth.ErrUnauthorized
		}
		if resp.IsError() || out.AttachmentID == "" {
			return errors.New("attachment registration rejected")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.AttachmentID, nil
}

// processDownload 单条下载任务
func (s *attachmentServiceImpl) processDownload(ctx context.Context, messageID string) {
	msg, err := s.msgRepo.Get(ctx, messageID)
	if err != nil {
		return
	}
	if msg.AttachmentID == "" {
		return
	}

	ok, err := s.msgRepo.SetDownloadStatus(ctx, messageID,
		[]string{model.DownloadPending}, model.DownloadInProgress, "")
	if err != nil || !ok {
		return
	}

	localPath := filepath.Join(s.downloadDir, msg.ID+"_"+msg.FileName)
	if err := minio.DownloadFile(ctx, minio.ObjectKey(msg.AttachmentID), localPath); err != nil {
		log.WarnContext(ctx, "附件下载失败", "message_id", messageID, "err", err)
		_, _ = s.msgRepo.SetDownloadStatus(ctx, messageID,
			[]string{model.DownloadInProgress}, model.DownloadFailedState, "")
		return
	}

	_, _ = s.msgRepo.SetDownloadStatus(ctx, messageID,
		[]string{model.DownloadInProgress}, model.DownloadDone, localPath)
	s.hub.Publish(observe.Change{Kind: observe.ChangeMessage, MessageID: messageID, Status: model.DownloadDone})
}

// SweepExpired 清理超期未完成的上传：记录转失败，对应消息一并转失败态
func (s *attachmentServiceImpl) SweepExpired(ctx context.Context) {
	ups, err := s.uploadRepo.ListExpired(ctx, repository.NowMillis())
	if err != nil {
		log.ErrorContext(ctx, "过期上传扫描失败", "err", err)
		return
	}
	for _, up := range ups {
		ok, _ := s.uploadRepo.CASStatus(ctx, up.MessageID,
			[]string{model.UploadPending, model.UploadInProgress, model.UploadConfirming},
			map[string]interface{}{"status": model.UploadFailed, "error": "upload expired"})
		if ok && s.cb != nil {
			s.cb.OnUploadFailed(ctx, up.MessageID, errors.New("upload expired"))
		}
	}
	if len(ups) > 0 {
		log.InfoContext(ctx, "过期上传清理完成", "count", len(ups))
	}
}
