package app

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ambirelabs/walletcore/src/handler"
	"github.com/ambirelabs/walletcore/src/repository"
	"github.com/ambirelabs/walletcore/src/service"
)

type Application struct {
	config   *AppConfig
	database *gorm.DB
	redis    *redis.Client

	BlockchainService *service.BlockchainService
	Tracker           *service.SettlementTracker
	Polling           *service.PollingService
	Messages          *repository.MessageRepository
}

func NewApplication(ctx context.Context, config *AppConfig) *Application {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(*config.RedisAddr)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse redis URL")
		return nil
	}

	rdb := redis.NewClient(redisOpts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error().Err(err).Msg("connection to redis failed")
		return nil
	}
	logger.Info().Msg("Redis connection established")

	// Connect to database
	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{})
	if err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		return nil
	}

	db, err := database.DB()
	if err != nil {
		logger.Error().Err(err).Msg("failed to get underlying database connection")
		return nil
	}
	if err := db.Ping(); err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		return nil
	}
	logger.Info().Msg("Database connection established")

	// run migration files
	if err := MigrationUp(*config.DSN, *config.MigrationPath); err != nil {
		logger.Error().Err(err).Msg("database migration failed")
		return nil
	}

	activityRepo := repository.NewActivityRepository(database)
	activityCache := repository.NewActivityCache(rdb, "walletcore")
	activityStore := repository.NewCachedActivityStore(activityCache, activityRepo)
	messageRepo := repository.NewMessageRepository(database)

	blockchainService := service.NewBlockchainService(service.BlockchainConfig{
		Chains: config.Chains,
	})

	relayerClient := service.NewRelayerClient(*config.RelayerURL)

	tracker, err := service.NewSettlementTracker(service.SettlementTrackerConfig{
		Blockchain: blockchainService,
		Relayer:    relayerClient,
		Store:      activityStore,
		OnUpdate: func(account common.Address) {
			logger.Debug().Str("account", account.Hex()).Msg("settlement state updated")
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("creation of settlement tracker failed")
		return nil
	}

	polling := service.NewPollingService(ctx, tracker, activityStore, service.PollingConfig{
		PollingInterval: time.Duration(*config.PollingInterval) * time.Second,
	})

	return &Application{
		config:            config,
		database:          database,
		redis:             rdb,
		BlockchainService: blockchainService,
		Tracker:           tracker,
		Polling:           polling,
		Messages:          messageRepo,
	}
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	app.BlockchainService.Close()

	if app.database != nil {
		db, err := app.database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close database connection")
			} else {
				logger.Info().Msg("Database connection closed")
			}
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.Default()

	app.registerRoutes(ctx, ginRouter)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunPollingWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunPollingWorker").Logger()
	logger.Info().Msg("Starting polling worker")

	if err := app.Polling.Start(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Polling worker exited with error")
	}

	logger.Info().Msg("Polling worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}

	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret"}
	config.AllowCredentials = true
	router.Use(cors.New(config))

	handler.SetMiddlewares(ctx, router)

	router.GET("/health", handler.HandleHealthCheck)

	activityHandler := handler.NewActivityHandler(app.Tracker, app.Messages)
	sessionHandler := handler.NewSessionHandler(app.Tracker)
	verifyHandler := handler.NewVerifyHandler(app.BlockchainService)

	v1 := router.Group("/api/v1")
	v1.Use(handler.SharedSecretMiddleware(*app.config.APISecret))
	{
		v1.POST("/accounts/:address/ops", activityHandler.TrackOp)
		v1.POST("/accounts/:address/reconcile", activityHandler.Reconcile)
		v1.GET("/accounts/:address/banners", activityHandler.Banners)
		v1.POST("/accounts/:address/messages", activityHandler.AddMessage)
		v1.GET("/accounts/:address/messages", activityHandler.Messages)

		v1.POST("/sessions", sessionHandler.OpenSession)
		v1.GET("/sessions/:id", sessionHandler.GetSession)
		v1.DELETE("/sessions/:id", sessionHandler.CloseSession)

		v1.POST("/signatures/verify", verifyHandler.VerifyMessage)
	}
}
