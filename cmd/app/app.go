package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	v1 "ddbridge/api/v1"
	"ddbridge/api/v1/handlers"
	"ddbridge/internal/config"
	"ddbridge/internal/session"
	"ddbridge/internal/store"
	"ddbridge/pkg/async"
	"ddbridge/pkg/logger"
	"ddbridge/pkg/server"
	"ddbridge/pkg/third/directdecisions"
	"ddbridge/pkg/third/discord"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp/reuseport"
)

// 关闭时等待后台交互任务的最长时间
const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("未找到 .env 文件，使用环境变量", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("配置错误:", err)
		os.Exit(1)
	}
	logger.Configure(cfg.LogLevel, cfg.LogFile)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("无法打开数据库")
	}

	dg, err := discord.NewSession(cfg.Discord.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("无法创建 Discord 客户端")
	}
	if cfg.Discord.RegisterCommands {
		if err := discord.RegisterCommands(dg, cfg.Discord.AppID, cfg.Discord.GuildID); err != nil {
			log.Fatal().Err(err).Msg("注册斜杠命令失败")
		}
	}

	verifier, err := discord.NewVerifier(cfg.Discord.PublicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("公钥无效")
	}
	dd := directdecisions.New(cfg.DD.Token,
		directdecisions.WithBaseURL(cfg.DD.APIURL),
		directdecisions.WithTimeout(cfg.DD.Timeout),
	)
	manager := session.NewManager(db, dd, session.WithDedupTTL(cfg.DedupTTL))
	tracker := async.NewTracker()

	app := server.NewFiber()
	v1.SetupRoutes(app, v1.Deps{
		Interactions: handlers.NewInteractionHandle(verifier, manager, discord.NewFollowUps(dg), tracker, cfg.InteractionTimeout),
		SystemKey:    cfg.SystemKey,
		Stats:        db,
	})

	run(app, cfg)

	// 先停止接收新交互，再等待已受理的交互完成
	tracker.Close()
	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := tracker.Wait(waitCtx); err != nil {
		log.Warn().Err(err).Msg("部分交互未在超时前完成")
	}
	log.Info().Msg("关闭数据库连接中...")
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("关闭数据库失败")
	}
}

func run(app *fiber.App, cfg config.Config) {
	port := cfg.Port
	c := make(chan os.Signal, 1)

	if cfg.Dev() {
		log.Info().Msg("开发模式已启用")
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		errc := async.ErrAble(func() error { return app.Listen(port) })
		select {
		case err := <-errc:
			log.Error().Err(err).Msg("监听失败")
		case <-c:
			_ = app.ShutdownWithTimeout(shutdownTimeout)
		}
		return
	}

	errc := async.ErrAble(func() error {
		ln, err := reuseport.Listen("tcp4", port)
		if err != nil {
			return err
		}
		return app.Listener(ln)
	})
	log.Info().Str("addr", port).Msg("服务已启动")

	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	select {
	case err := <-errc:
		log.Error().Err(err).Msg("无法监听")
		return
	case sig := <-c:
		if sig == syscall.SIGHUP {
			log.Info().Msg("正在热更新服务端...")
			exe, _ := os.Executable()
			cmd := exec.Command(exe)
			cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
			if err := cmd.Start(); err != nil {
				log.Error().Err(err).Msg("启动新端失败>_<")
				return
			}
		}
	}
	_ = app.ShutdownWithTimeout(shutdownTimeout)
}
