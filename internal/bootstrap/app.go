package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "listenparty/internal/handler/http"
	wsHandler "listenparty/internal/handler/websocket"
	"listenparty/internal/hub"
	gormpersistence "listenparty/internal/infra/persistence/gorm"
	"listenparty/internal/infra/persistence/memory"
	"listenparty/internal/infra/setup"
	redisstate "listenparty/internal/infra/state/redis"
	"listenparty/internal/middleware"
	"listenparty/internal/provider"
	"listenparty/internal/repository"
	"listenparty/internal/service"
	"listenparty/internal/tasks"
	"listenparty/internal/worker"
)

// App holds every long-lived component.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Rooms       *service.RoomService
	Sessions    *service.SessionService
	HttpServer  *http.Server
}

type stores struct {
	rooms    repository.RoomRepository
	members  repository.MemberRepository
	invites  repository.InviteRepository
	sessions repository.SessionRepository
}

// NewApp wires the application described by cfg.
func NewApp(cfg *Config) (*App, error) {
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	log.Info("Initializing infrastructure...")
	var db *gorm.DB
	if cfg.StorageDriver != setup.DriverMemory {
		var err error
		db, err = setup.InitDB(setup.DBConfig{
			Driver:     cfg.StorageDriver,
			SQLitePath: cfg.SQLitePath,
			User:       cfg.DBUser,
			Password:   cfg.DBPassword,
			Host:       cfg.DBHost,
			Port:       cfg.DBPort,
			Name:       cfg.DBName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix, cfg.SessionTTL)
	repos := newStores(cfg, db, stateRepo)
	log.WithFields(logrus.Fields{"storage": cfg.StorageDriver, "session_store": cfg.SessionStore}).Info("Repositories initialized")

	providers, err := newProviders(cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := service.NewTokenService(cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create TokenService: %w", err)
	}
	hubInstance := hub.NewHub(tasks.NewLyricsHook(asynqClient))
	roomService := service.NewRoomService(repos.rooms, repos.members, repos.invites, tokens, service.RoomConfig{
		DefaultMaxMembers: cfg.DefaultMaxMembers,
		MaxActiveInvites:  cfg.MaxActiveInvites,
		InviteTTL:         cfg.InviteTTL,
		InviteMaxUses:     cfg.InviteMaxUses,
	}, nil)
	sessionService := service.NewSessionService(roomService, hubInstance, providers, repos.sessions, service.SessionConfig{
		MaxQueueSize: cfg.MaxQueueSize,
		IdleTimeout:  cfg.SessionIdleTimeout,
		Retry:        provider.Policy{Attempts: cfg.StreamRetries, BaseDelay: cfg.StreamRetryBase},
	}, nil)
	log.Info("Services initialized")

	mux := worker.NewServeMux(
		worker.NewLyricsHandler(nil, hubInstance),
		worker.NewSessionSweepHandler(sessionService, nil),
	)
	workerServer, err := worker.NewWorkerServer(redisClientOpt, mux, cfg.SweepInterval, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker server: %w", err)
	}

	router := newRouter(cfg, log, routerDeps{
		tokens:   tokens,
		limiter:  stateRepo,
		rooms:    httpHandler.NewRoomHandler(roomService, sessionService),
		playback: httpHandler.NewPlaybackHandler(roomService, sessionService),
		ws:       wsHandler.NewWebSocketHandler(hubInstance, roomService, sessionService, cfg.CORSAllowedOrigin),
	})

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		Rooms:       roomService,
		Sessions:    sessionService,
		HttpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", level.String(), log.Formatter)
	return log
}

func newStores(cfg *Config, db *gorm.DB, state *redisstate.RedisStateRepository) stores {
	var s stores
	var mem *memory.Store
	if db == nil {
		mem = memory.NewStore()
		s.rooms, s.members, s.invites = mem, mem.Members(), mem.Invites()
	} else {
		s.rooms = gormpersistence.NewGormRoomRepository(db)
		s.members = gormpersistence.NewGormMemberRepository(db)
		s.invites = gormpersistence.NewGormInviteRepository(db)
	}
	switch cfg.SessionStore {
	case SessionStoreSQL:
		s.sessions = gormpersistence.NewGormSessionRepository(db)
	case SessionStoreMemory:
		if mem == nil {
			mem = memory.NewStore()
		}
		s.sessions = mem.Sessions()
	default:
		s.sessions = state
	}
	return s
}

// newProviders registers the bundled providers. They are registered
// without retry; the session service applies the retry policy per call.
func newProviders(cfg *Config, log *logrus.Logger) (*provider.Registry, error) {
	if cfg.CatalogPath == "" {
		log.Warn("CATALOG_PATH not set, local catalog is empty")
		return provider.NewRegistry(provider.NewCatalog(provider.CatalogName, nil)), nil
	}
	catalog, err := provider.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	log.WithField("path", cfg.CatalogPath).Info("Local catalog loaded")
	return provider.NewRegistry(catalog), nil
}

// Start launches the worker and the HTTP server.
func (a *App) Start() {
	if err := a.AsynqServer.Start(); err != nil {
		a.Log.WithError(err).Error("Asynq worker server failed to start")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown stops intake first, then persists every session before closing
// the stores.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}
	a.Sessions.Shutdown(ctx)
	a.Hub.Shutdown()

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}
	a.Log.Info("Application shutdown complete.")
}

type routerDeps struct {
	tokens   middleware.TokenParser
	limiter  repository.RateLimiter
	rooms    *httpHandler.RoomHandler
	playback *httpHandler.PlaybackHandler
	ws       *wsHandler.WebSocketHandler
}

func newRouter(cfg *Config, log *logrus.Logger, d routerDeps) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	api := router.Group("/api", middleware.RateLimit(d.limiter, cfg.RateLimitMax, cfg.RateLimitWindow))
	{
		api.POST("/rooms", d.rooms.CreateRoom)
		api.GET("/rooms", d.rooms.ListRooms)
		api.GET("/rooms/:roomId", d.rooms.GetRoom)
		api.POST("/rooms/:roomId/join", d.rooms.JoinRoom)
		api.GET("/search", d.playback.Search)
	}
	member := api.Group("/rooms/:roomId", middleware.Auth(d.tokens), httpHandler.RequireRoomMember())
	{
		member.DELETE("", d.rooms.DeleteRoom)
		member.POST("/leave", d.rooms.LeaveRoom)
		member.POST("/invites", d.rooms.CreateInvite)
		member.GET("/invites", d.rooms.ListInvites)
		member.GET("/members", d.rooms.ListMembers)

		member.GET("/playback", d.playback.GetState)
		member.POST("/play", d.playback.Play)
		member.POST("/pause", d.playback.Pause)
		member.POST("/resume", d.playback.Resume)
		member.POST("/skip", d.playback.Skip)
		member.POST("/seek", d.playback.Seek)
		member.POST("/reconnect", d.playback.Reconnect)

		member.GET("/queue", d.playback.GetQueue)
		member.POST("/queue", d.playback.AddToQueue)
		member.DELETE("/queue", d.playback.ClearQueue)
		member.DELETE("/queue/:position", d.playback.RemoveFromQueue)
		member.POST("/queue/reorder", d.playback.ReorderQueue)
		member.POST("/queue/shuffle", d.playback.ShuffleQueue)
	}
	router.GET("/ws/rooms/:roomId", middleware.Auth(d.tokens), d.ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	return router
}

// CORSMiddleware answers preflight requests and sets the CORS headers.
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware logs every request through log.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" && c.Query("token") == "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry.Error(errorMessage)
			return
		}
		switch {
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
