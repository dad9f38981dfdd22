package main

import (
	"StakeArena/config"
	"StakeArena/internal/auth"
	"StakeArena/internal/matchmaker"
	"StakeArena/internal/middleware"
	"StakeArena/internal/storage"
	"StakeArena/internal/utils"
	"StakeArena/internal/websocket"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	path := flag.String("config", config.DefaultPath, "path to config yaml")
	flag.Parse()

	if err := run(*path); err != nil {
		utils.Log.Fatal("server exited", "err", err)
	}
}

// stores 按 store.driver 打开的存储，closers 在退出时逆序执行
type stores struct {
	repo    matchmaker.Repo
	nonces  auth.NonceStore
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{nonces: auth.NewMemoryNonceStore()}

	switch cfg.Store.Driver {
	case "memory":
		s.repo = matchmaker.NewMemoryRepo()

	case "redis":
		rdb, err := storage.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		s.repo = matchmaker.NewRedisRepo(rdb, cfg.Matchmaker.EntryTTL)
		s.nonces = auth.NewRedisNonceStore(rdb)

	case "postgres":
		db, err := storage.NewPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		if err := matchmaker.Migrate(ctx, db); err != nil {
			s.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.repo = matchmaker.NewPostgresRepo(db)

	case "mongo":
		db, err := storage.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(cctx)
		})
		if err := matchmaker.EnsureMongoIndexes(ctx, db); err != nil {
			s.close()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		s.repo = matchmaker.NewMongoRepo(db)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return s, nil
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	utils.Init(cfg.Log.Level)
	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//-------------------------------------------------------
	// 1. 初始化存储
	//-------------------------------------------------------
	st, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer st.close()
	utils.Log.Info("store ready", "driver", cfg.Store.Driver)

	//-------------------------------------------------------
	// 2. 初始化 Hub（必须最先启动）
	//-------------------------------------------------------
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Close()

	//-------------------------------------------------------
	// 3. 初始化匹配系统 Matchmaker
	//-------------------------------------------------------
	svc := matchmaker.NewService(st.repo, matchmaker.Options{
		ConsumeMode: matchmaker.ConsumeMode(cfg.Matchmaker.ConsumeMode),
	}, hub)

	// 客户端通过 ws 回执已读
	hub.OnIncoming = func(msg websocket.IncomingMessage) {
		if msg.Event != websocket.EventNotificationRead {
			return
		}
		id, _ := msg.Data.(string)
		if err := svc.MarkRead(ctx, msg.From, id); err != nil {
			hub.SendToPlayer(msg.From, websocket.OutgoingMessage{Event: websocket.EventError, Data: err.Error()})
		}
	}

	//-------------------------------------------------------
	// 4. 初始化 Gin + CORS
	//-------------------------------------------------------
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.Mode() != gin.ReleaseMode {
		r.Use(gin.Logger())
	}
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := r.Group("/auth")
	{
		ah := auth.NewHandler(st.nonces, []byte(cfg.JWT.Secret))
		authGroup.GET("/nonce", ah.Nonce)
		authGroup.POST("/nonce", ah.Nonce)
		authGroup.POST("/login", ah.Login)
	}

	mh := matchmaker.NewHandler(svc, cfg.Matchmaker.Secret, cfg.Server.Environment)

	//-------------------------------------------------------
	// 5. 队列处理入口（定时任务 / 外部 cron）
	//-------------------------------------------------------
	r.POST("/matchmaking/process", mh.RequireSecret, mh.Process)
	if cfg.Matchmaker.Debug {
		utils.Log.Warn("unauthenticated debug endpoint enabled", "path", "/matchmaking/debug/process")
		r.GET("/matchmaking/debug/process", mh.DebugProcess)
		r.POST("/matchmaking/debug/process", mh.DebugProcess)
	}

	//-------------------------------------------------------
	// 6. 玩家接口 + WebSocket（JWT）
	//-------------------------------------------------------
	player := r.Group("/", middleware.JwtAuthMiddleware([]byte(cfg.JWT.Secret)))
	{
		player.GET("/ws", websocket.ServeWS(hub))

		player.POST("/matchmaking/queue", mh.Enqueue)
		player.GET("/matchmaking/queue/:lobbyId", mh.QueueStatus)
		player.DELETE("/matchmaking/queue/:lobbyId", mh.Cancel)
		player.GET("/matches/:id", mh.GetMatch)
		player.GET("/notifications", mh.Notifications)
		player.POST("/notifications/:id/read", mh.MarkRead)
	}

	//-------------------------------------------------------
	// 7. 启动服务器 + 定时处理
	//-------------------------------------------------------
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Log.Info("server running", "addr", cfg.Server.Port, "env", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		utils.Log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	if cfg.Matchmaker.Interval > 0 {
		g.Go(func() error {
			return matchmaker.NewScheduler(svc, cfg.Matchmaker.Interval).Run(gctx)
		})
	}
	return g.Wait()
}
