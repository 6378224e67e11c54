// Package api 提供本地运维HTTP接口和面板WebSocket入口。
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/hardware"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/middleware"
	"github.com/wfunc/coin-bank/internal/repository"
	"github.com/wfunc/coin-bank/internal/utils"
	ws "github.com/wfunc/coin-bank/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Bank 主循环对外暴露的操作
type Bank interface {
	Snapshot() controller.Snapshot
	Frame() controller.Update
	Adjust(ctx context.Context, delta int64, source string) error
	StartMotor(ctx context.Context) error
	Persist(ctx context.Context) error
}

// Deps 路由依赖；DB/JournalRepo/Board/Hub为nil时相应功能降级
type Deps struct {
	Bank        Bank
	Journal     *journal.Writer
	JournalRepo repository.JournalRepository
	DB          *gorm.DB
	Board       hardware.Board
	Hub         *ws.Hub
	JWT         *utils.JWTManager
	Logger      *zap.Logger
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	deps           Deps
	authMiddleware *middleware.AuthMiddleware
	bankHandler    *BankHandler
	journalHandler *JournalHandler
	wsHandler      *WebSocketHandler
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Deps, mode string) *Router {
	if mode != "" {
		gin.SetMode(mode)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(deps.Logger))

	r := &Router{
		engine:         engine,
		deps:           deps,
		authMiddleware: middleware.NewAuthMiddleware(deps.JWT),
		bankHandler:    NewBankHandler(deps.Bank, deps.Board, deps.Journal, deps.Logger),
		journalHandler: NewJournalHandler(deps.JournalRepo, deps.Journal, deps.Logger),
		log:            deps.Logger,
	}
	if deps.Hub != nil {
		r.wsHandler = NewWebSocketHandler(deps.Hub, deps.Logger)
	}

	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/status", r.bankHandler.Status)

		journal := v1.Group("/journal")
		journal.Use(r.authMiddleware.RequireAuth())
		{
			journal.GET("", r.journalHandler.List)
			journal.GET("/summary", r.journalHandler.Summary)
		}

		// 修改余额和驱动电机需要操作员令牌
		operator := v1.Group("")
		operator.Use(r.authMiddleware.RequireRole(utils.RoleOperator))
		{
			operator.POST("/adjust", r.bankHandler.Adjust)
			operator.POST("/motor/start", r.bankHandler.StartMotor)
			operator.POST("/persist", r.bankHandler.Persist)
		}
	}

	if r.wsHandler != nil {
		r.engine.GET("/ws", r.authMiddleware.RequireAuth(), r.wsHandler.Panel)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy", "database": "disabled"}

	if r.deps.DB != nil {
		sqlDB, err := r.deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	if r.deps.Board != nil {
		stats := r.deps.Board.Stats()
		body["board_online"] = stats.Online
		body["board_mock"] = stats.Mock
	}

	c.JSON(status, body)
}

// Engine 获取Gin引擎
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Server 按配置创建HTTP服务
func (r *Router) Server(cfg config.ServerConfig) *http.Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	r.log.Info("HTTP服务地址", zap.String("address", addr))
	return &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// respondError 按错误码输出错误响应
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr))
}
