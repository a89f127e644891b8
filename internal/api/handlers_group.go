package api

import "Fieldlink/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	IMHandler       *handler.IMHandler
	PushHandler     *handler.PushHandler
	PresenceHandler *handler.PresenceHandler
	WSHandler       *handler.WsHandler
}
