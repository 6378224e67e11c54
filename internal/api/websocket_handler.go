package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/coin-bank/internal/middleware"
	ws "github.com/wfunc/coin-bank/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler 面板WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 面板只在本地网络访问，令牌已在中间件校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Panel 面板连接：推送每一帧和余额变化
// @Summary 面板WebSocket
// @Tags Panel
// @Security Bearer
// @Router /ws [get]
func (h *WebSocketHandler) Panel(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	operator, _ := middleware.GetOperator(c)
	client := ws.NewClient(h.hub, conn)
	h.logger.Info("面板连接", zap.String("client_id", client.ID), zap.String("operator", operator))
	client.Serve()
}
