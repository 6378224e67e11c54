package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/coin-bank/internal/api"
	"github.com/wfunc/coin-bank/internal/clock"
	"github.com/wfunc/coin-bank/internal/config"
	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/database"
	"github.com/wfunc/coin-bank/internal/errors"
	"github.com/wfunc/coin-bank/internal/hardware"
	"github.com/wfunc/coin-bank/internal/journal"
	"github.com/wfunc/coin-bank/internal/logger"
	"github.com/wfunc/coin-bank/internal/repository"
	"github.com/wfunc/coin-bank/internal/storage"
	"github.com/wfunc/coin-bank/internal/utils"
	ws "github.com/wfunc/coin-bank/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 进程内全部组件
type Server struct {
	cfg    *config.Config // 启动时的配置，之后只读
	logger *zap.Logger

	db          *gorm.DB
	journalRepo repository.JournalRepository
	medium      storage.Medium
	store       *storage.Store
	board       hardware.Board
	journal     *journal.Writer
	ctrl        *controller.Controller
	hub         *ws.Hub
	httpServer  *http.Server

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
		selftest    = flag.Bool("selftest", false, "使用模拟时钟和模拟板卡运行自检后退出")
		issueToken  = flag.String("issue-token", "", "为指定操作员签发令牌后退出")
		tokenRole   = flag.String("role", utils.RoleOperator, "签发令牌的角色 (operator/viewer)")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if *issueToken != "" {
		os.Exit(runIssueToken(cfg, *issueToken, *tokenRole))
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	if *selftest {
		os.Exit(runSelftest(cfg, os.Stdout))
	}

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.LogError(err, "启动失败")
		server.closeComponents(true)
		os.Exit(1)
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Infof("coin-bank %s 已安全关闭", Version)
}

// NewServer 创建实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 按依赖顺序初始化并启动
func (s *Server) Start() error {
	s.logger.Info("正在启动存钱罐控制器...",
		zap.String("version", Version),
		zap.String("config", config.ConfigFile()),
		zap.Bool("mock", s.cfg.Serial.MockMode))

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initStorage(); err != nil {
		return err
	}
	if err := s.initController(); err != nil {
		return err
	}
	s.reconcileJournal()
	s.startServices()

	config.Watch(func(newCfg *config.Config) {
		s.reloadConfig(newCfg)
	})

	s.logger.Info("启动完成",
		zap.Uint32("total", s.ctrl.Snapshot().Total),
		zap.String("display", s.ctrl.Snapshot().Text))
	return nil
}

// initDatabase 初始化数据库（可选）
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，流水只保存在内存中")
		return nil
	}

	database.CleanupStaleLocks(&s.cfg.Database)
	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库失败")
	}
	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}
	s.db = database.GetDB()
	s.journalRepo = repository.NewJournalRepository(s.db)
	s.logger.Info("数据库初始化完成", zap.String("driver", s.cfg.Database.Driver))
	return nil
}

// initStorage 打开余额存储介质
func (s *Server) initStorage() error {
	cfg := s.cfg.Storage
	switch cfg.Medium {
	case "memory":
		s.medium = storage.NewMemoryMedium(cfg.Capacity)
	case "file":
		m, err := storage.OpenFileMedium(cfg.Path, cfg.Capacity)
		if err != nil {
			return err
		}
		s.medium = m
	case "database":
		if s.db == nil {
			return errors.New(errors.ErrConfigValidate, "database介质需要启用数据库")
		}
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		m, err := storage.OpenDatabaseMedium(ctx, repository.NewEEPROMRepository(s.db), cfg.Name, cfg.Capacity)
		if err != nil {
			return err
		}
		s.medium = m
	default:
		return errors.Newf(errors.ErrConfigValidate, "不支持的存储介质: %s", cfg.Medium)
	}

	store, err := storage.NewStore(s.medium, logger.WithModule("storage"))
	if err != nil {
		return err
	}
	s.store = store
	s.logger.Info("存储介质已打开", zap.String("medium", cfg.Medium), zap.Int64("size", s.medium.Size()))
	return nil
}

// initController 打开板卡并创建主循环
func (s *Server) initController() error {
	opts, err := controller.OptionsFromConfig(s.cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidate, "主循环参数无效")
	}

	s.board, err = hardware.Open(s.cfg.Serial, s.cfg.Display.Width*s.cfg.Display.Height, opts.CoinPins(), s.onFault)
	if err != nil {
		return err
	}

	s.journal = journal.NewWriter(s.journalRepo, s.cfg.Controller.JournalSize, logger.WithModule("journal"))
	s.journal.Start()

	s.ctrl, err = controller.New(controller.Deps{
		Clock:   clock.NewSystem(),
		Analog:  s.board,
		Digital: s.board,
		Driver:  s.board,
		Sink:    s.board,
		Store:   s.store,
		Journal: s.journal,
		Logger:  logger.WithModule("controller"),
		Events:  logger.Events(s.cfg.Log.DebugEvents, "events"),
	}, opts)
	return err
}

// onFault 板卡故障回调（串口读协程中调用）
func (s *Server) onFault(f *hardware.FaultEvent) {
	s.logger.Warn("板卡上报故障",
		zap.Uint8("code", f.FaultCode),
		zap.Uint8("level", f.Level),
		zap.Binary("extra", f.ExtraInfo))
}

// startServices 启动主循环、面板推送和HTTP服务
func (s *Server) startServices() {
	// 主循环退出前会保存余额，需等待其返回
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ctrl.Run(s.ctx)
	}()

	s.hub = ws.NewHub(s.ctrl, logger.WithModule("websocket"))
	updates, unsubscribe := s.ctrl.Subscribe(8)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.hub.Forward(s.ctx, updates)
	}()

	if !s.cfg.Server.Enabled {
		return
	}

	router := api.NewRouter(api.Deps{
		Bank:        s.ctrl,
		Journal:     s.journal,
		JournalRepo: s.journalRepo,
		DB:          s.db,
		Board:       s.board,
		Hub:         s.hub,
		JWT:         newJWTManager(s.cfg),
		Logger:      logger.WithModule("api"),
	}, s.cfg.Server.Mode)
	s.httpServer = router.Server(s.cfg.Server)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()
}

// reconcileJournal 清理过期流水，并核对最近一条流水与恢复的余额
func (s *Server) reconcileJournal() {
	if s.journalRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	if retention := s.cfg.Controller.JournalRetention; retention > 0 {
		n, err := s.journalRepo.DeleteBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			s.logger.Warn("清理过期流水失败", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("已清理过期流水", zap.Int64("count", n), zap.Duration("retention", retention))
		}
	}

	latest, err := s.journalRepo.Latest(ctx)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			s.logger.Warn("读取最近流水失败", zap.Error(err))
		}
		return
	}
	// 投币不立即落盘，掉电后流水可能领先于存储的余额
	if total := s.ctrl.Snapshot().Total; latest.TotalAfter != total {
		s.logger.Warn("最近流水与存储余额不一致",
			zap.Uint32("journal_total", latest.TotalAfter),
			zap.Uint32("stored_total", total),
			zap.Time("occurred_at", latest.OccurredAt))
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭：先停止接收请求，再停主循环（保存余额），最后关闭组件
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
		}
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	stopped := true
	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		err = errors.New(errors.ErrTimeout, "关闭超时")
		stopped = false
	}

	s.closeComponents(stopped)
	if syncErr := logger.Sync(); syncErr != nil {
		fmt.Printf("同步日志失败: %v\n", syncErr)
	}
	return err
}

// closeComponents 关闭组件；loopStopped为false时主循环可能仍在提交流水
func (s *Server) closeComponents(loopStopped bool) {
	if s.journal != nil {
		if loopStopped {
			s.journal.Close()
		} else {
			s.journal.Stop()
		}
	}
	if s.board != nil {
		if err := s.board.Close(); err != nil {
			s.logger.Warn("关闭板卡失败", zap.Error(err))
		}
	}
	if f, ok := s.medium.(*storage.FileMedium); ok {
		if err := f.Close(); err != nil {
			s.logger.Warn("关闭存储文件失败", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}
}

// reloadConfig 热更新：日志级别立即生效，主循环参数在下一个tick边界生效。
// 在fsnotify协程中调用，不修改s.cfg。
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)

	opts, err := controller.OptionsFromConfig(newCfg)
	if err != nil {
		s.logger.Warn("新配置无效，忽略", zap.Error(err))
		return
	}
	if err := s.ctrl.Retune(opts); err != nil {
		s.logger.Warn("提交新参数失败", zap.Error(err))
		return
	}
	s.logger.Info("配置已重新加载")
}

func newJWTManager(cfg *config.Config) *utils.JWTManager {
	return utils.NewJWTManager(cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour, cfg.Security.JWT.Issuer)
}

// runIssueToken 签发操作员令牌
func runIssueToken(cfg *config.Config, operator, role string) int {
	token, err := newJWTManager(cfg).GenerateToken(operator, role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "签发令牌失败: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("存钱罐控制器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("存钱罐控制器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  coinbank [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  COIN_BANK_SERIAL_MOCK_MODE   使用模拟板卡 (true/false)")
	fmt.Println("  COIN_BANK_LOG_LEVEL          日志级别")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  coinbank -config=/etc/coinbank/config.yaml")
	fmt.Println("  coinbank -selftest")
	fmt.Println("  coinbank -issue-token=alice -role=operator")
}
