package wire

import (
	"Fieldlink/internal/api"
	"Fieldlink/internal/api/config"
	"Fieldlink/internal/api/handler"
	"Fieldlink/internal/job"
	"Fieldlink/internal/pkg/auth"
	"Fieldlink/internal/pkg/cron"
	"Fieldlink/internal/pkg/notify"
	"Fieldlink/internal/pkg/observe"
	"Fieldlink/internal/pkg/state"
	"Fieldlink/internal/pkg/transport"
	"Fieldlink/internal/repository"
	"Fieldlink/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router    *gin.Engine
	DB        *gorm.DB
	Transport *transport.Client
	Prober    *transport.Prober
	Queue     service.DeliveryQueue
	Attach    service.AttachmentService
	CronMgr   *cron.Manager
}

func BuildApplication(db *gorm.DB, cfg *config.Config) (*ApplicationContainer, error) {
	msgRepo := repository.NewMessageRepo(db)
	convRepo := repository.NewConversationRepo(db)
	uploadRepo := repository.NewUploadRepo(db)

	hub := observe.NewHub()
	active := state.NewActiveConversation()
	notifier := notify.NewNotifier(hub)

	creds := auth.NewProvider(cfg.Backend.BaseURL, cfg.Device.RefreshToken)
	prober := transport.NewProber(cfg.Backend.BaseURL)
	tp := transport.NewClient(cfg.Backend.GatewayWS, creds, prober)

	attachService := service.NewAttachmentService(
		uploadRepo, msgRepo, creds, hub,
		cfg.Backend.BaseURL, cfg.Storage.DownloadDir,
	)
	queueService := service.NewDeliveryQueue(
		msgRepo, convRepo, attachService, tp, hub, cfg.Device.UserID,
	)
	// 上传完成要把消息送回发送管线，两者互相引用，构造后补接
	attachService.SetCallback(queueService)

	ingestService := service.NewIngestService(
		msgRepo, convRepo, tp, active, notifier, hub,
		attachService, queueService, cfg.Device.UserID,
	)
	presenceService := service.NewPresenceService(tp, hub)
	chatService := service.NewChatService(msgRepo, convRepo, uploadRepo, tp, hub)

	tp.SetHandler(service.NewEventDispatcher(queueService, ingestService, presenceService))

	handlers := &api.HandlersGroup{
		IMHandler:       handler.NewIMHandler(queueService, chatService, attachService, active),
		PushHandler:     handler.NewPushHandler(ingestService),
		PresenceHandler: handler.NewPresenceHandler(presenceService),
		WSHandler:       handler.NewWsHandler(hub),
	}

	router := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(
		job.NewUploadCleanupJob(attachService),
		job.NewAckFlushJob(ingestService),
	)

	return &ApplicationContainer{
		Router:    router,
		DB:        db,
		Transport: tp,
		Prober:    prober,
		Queue:     queueService,
		Attach:    attachService,
		CronMgr:   cronMgr,
	}, nil
}
