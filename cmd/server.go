package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"QShareFM/cache"
	"QShareFM/config"
	"QShareFM/core/player"
	"QShareFM/db"
	"QShareFM/loader"
	"QShareFM/logger"
	"QShareFM/model"
	"QShareFM/repository"
	"QShareFM/storage"

	"github.com/spf13/cobra"
)

var forceUpdate bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动QShareFM服务器",
	Long:  `启动共享播放队列的编排服务，提供REST API和WebSocket事件广播`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	serverCmd.Flags().BoolVar(&forceUpdate, "force-update", false, "启动时清空音频缓存，强制重新抓取")
	rootCmd.AddCommand(serverCmd)
}

func runServer() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
	defer logger.Sync()

	// 基础设施按可用性降级：Redis/MinIO/MySQL 任一不可用时
	// 相应能力（热缓存、对象存储、播放历史）自动关闭
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis连接失败，热缓存不可用", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
	}

	if err := storage.InitMinio(cfg); err != nil {
		logger.Warn("MinIO初始化失败，对象存储不可用", logger.ErrorField(err))
	}

	var historyRepo repository.PlayHistoryRepository
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("数据库连接失败，播放历史不可用", logger.ErrorField(err))
	} else {
		defer db.CloseGormDB()
		if err := db.AutoMigrateModels(&model.PlayHistory{}); err != nil {
			log.Fatalf("Failed to migrate models: %v", err)
		}
		historyRepo = repository.NewGormPlayHistoryRepository(db.GormDB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ldr := loader.New(cfg, historyRepo)
	defer ldr.Close()

	p := player.New(cfg, ldr)
	if err := p.Initialize(ctx, forceUpdate); err != nil {
		log.Fatalf("Failed to initialize player: %v", err)
	}

	rest := ldr.RestServer()
	if rest == nil {
		logger.Warn("REST接入层未启用，服务只能通过进程内API驱动")
		<-ctx.Done()
		return
	}

	if err := rest.Start(ctx); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
	logger.Info("服务已停止")
}
