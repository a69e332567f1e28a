package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "taskflow/docs"
	"taskflow/internal/config"
	"taskflow/internal/handlers"
	"taskflow/internal/logger"
	"taskflow/internal/middleware"
	"taskflow/internal/pdf"
	"taskflow/internal/realtime"
	"taskflow/internal/repositories"
	"taskflow/internal/routes"
	"taskflow/internal/services"
)

func Run() error {
	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warnw("[db][close][err]", "err", err)
		}
	}()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	store := repositories.NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Activity fan-out ===
	hub := realtime.NewHub(log)
	var publisher services.ActivityPublisher = hub
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warnw("[redis][ping][err] using local hub only", "addr", cfg.Redis.Addr, "err", err)
		} else {
			bridge := realtime.NewRedisBridge(rdb, hub, log)
			go func() {
				if err := bridge.Run(ctx); err != nil {
					log.Errorw("[redis][run][err]", "err", err)
				}
			}()
			publisher = bridge
			log.Infow("[redis][ok]", "addr", cfg.Redis.Addr)
		}
	}

	// === Services ===
	taskService := services.NewTaskService(store,
		services.WithTransitionPolicy(services.TransitionPolicy{Strict: cfg.Lifecycle.StrictTransitions}),
		services.WithActivityPublisher(publisher),
	)
	activityService := services.NewActivityService(store, cfg.Lifecycle.ActivityLimit, publisher)
	reportService := services.NewReportService(store, activityService, pdf.NewTaskReportGenerator(cfg.PDF.FontPath))
	notifier := newNotifier(cfg, store, log)

	// === Handlers ===
	taskHandler := handlers.NewTaskHandler(taskService, notifier, log)
	activityHandler := handlers.NewActivityHandler(activityService, taskService, reportService, hub, log)

	// === Gin ===
	router := gin.New()
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:   []string{"Content-Disposition", middleware.RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	routes.SetupRoutes(router, []byte(cfg.Auth.JWTSecret), taskHandler, activityHandler)

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infow("[server][start]", "addr", listenAddr, "strict_transitions", cfg.Lifecycle.StrictTransitions)
	return router.Run(listenAddr)
}

// newNotifier returns nil when neither Telegram nor SMTP is configured.
func newNotifier(cfg *config.Config, store repositories.Store, log *zap.SugaredLogger) services.NotificationService {
	var (
		tg   services.TelegramSender
		mail services.MailSender
	)
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			log.Warnw("[telegram][init][err] notifications by telegram disabled", "err", err)
		} else {
			log.Infow("[telegram][ok]", "bot", bot.Self.UserName)
			tg = bot
		}
	}
	if cfg.Email.Enabled() {
		mail = services.NewMailDialer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUser, cfg.Email.SMTPPassword)
	}
	if tg == nil && mail == nil {
		return nil
	}
	return services.NewNotificationService(store.Users(), tg, mail, cfg.Email.FromEmail, log)
}
