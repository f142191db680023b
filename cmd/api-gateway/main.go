package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/utldo-dev/im-review-api/api/swagger"
	"github.com/utldo-dev/im-review-api/internal/client"
	"github.com/utldo-dev/im-review-api/internal/handler"
	"github.com/utldo-dev/im-review-api/internal/middleware"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/repository"
	"github.com/utldo-dev/im-review-api/internal/service"
	"github.com/utldo-dev/im-review-api/internal/workflow"
	"github.com/utldo-dev/im-review-api/pkg/cache"
	"github.com/utldo-dev/im-review-api/pkg/config"
	"github.com/utldo-dev/im-review-api/pkg/database"
	"github.com/utldo-dev/im-review-api/pkg/export"
	"github.com/utldo-dev/im-review-api/pkg/logger"
	corsmiddleware "github.com/utldo-dev/im-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/utldo-dev/im-review-api/pkg/middleware/requestid"
	"github.com/utldo-dev/im-review-api/pkg/storage"
)

// @title IM Review API
// @version 1.0.0
// @description Instructional material review pipeline and college directory
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, directory caching disabled", "error", err)
		redisClient = nil
	}

	uploadStorage, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	certStorage, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	imRepo := repository.NewIMRepository(db)
	authorRepo := repository.NewAuthorRepository(db)
	baseRepo := repository.NewBaseRecordRepository(db)
	metadataRepo := repository.NewMetadataRepository(db)
	certRepo := repository.NewCertificateRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	legacyClient := client.NewLegacyClient(cfg.Analysis.BaseURL, cfg.Analysis.Timeout, logr)

	// Services.
	metricsService := service.NewMetricsService()
	auditTrail := service.NewAuditTrail(userRepo, logr)
	auditTrail.Start(context.Background())
	defer auditTrail.Stop()
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "im-review-api",
	})
	userService := service.NewUserService(userRepo, nil, logr)
	metadataService := service.NewMetadataService(metadataRepo, logr)
	downloadSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	directoryService := service.NewDirectoryService(baseRepo, imRepo, authorRepo, metadataService, cacheRepo, logr, cfg.Directory.CacheTTL)
	authorNotifier := service.NewLogNotifier(logr)
	imService := service.NewIMService(imRepo, authorRepo, baseRepo, legacyClient, uploadStorage, certRepo, downloadSigner, directoryService, authorNotifier, auditTrail, logr, workflow.NewTable())
	authorService := service.NewAuthorService(authorRepo, imRepo, baseRepo, authorNotifier, directoryService, auditTrail, logr)
	certService := service.NewCertificateService(certRepo, imRepo, authorRepo, baseRepo, userRepo,
		export.NewCertificateExporter(cfg.Certificates.Institution), certStorage, auditTrail, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	imHandler := handler.NewIMHandler(imService)
	authorHandler := handler.NewAuthorHandler(authorService)
	directoryHandler := handler.NewDirectoryHandler(directoryService)
	certHandler := handler.NewCertificateHandler(certService)
	metadataHandler := handler.NewMetadataHandler(metadataService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/snapshot", metricsHandler.Snapshot)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authService), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireRoles(models.RoleUTLDOAdmin, models.RoleTechnicalAdmin), userHandler.List)
		users.GET("/:id", middleware.RBAC(string(models.RoleUTLDOAdmin), string(models.RoleTechnicalAdmin), "SELF"), userHandler.Get)
		users.POST("", middleware.RequireRoles(models.RoleTechnicalAdmin), userHandler.Create)
		users.PUT("/:id", middleware.RequireRoles(models.RoleTechnicalAdmin), userHandler.Update)
		users.DELETE("/:id", middleware.RequireRoles(models.RoleTechnicalAdmin), userHandler.Delete)
	}

	ims := api.Group("/ims", middleware.JWT(authService))
	{
		ims.POST("", imHandler.Create)
		ims.GET("", imHandler.List)
		ims.GET("/:id", imHandler.Get)
		ims.DELETE("/:id", imHandler.Delete)
		ims.POST("/:id/upload", imHandler.Upload)
		ims.GET("/:id/download", imHandler.DownloadLink)
		ims.POST("/:id/evaluate", imHandler.Evaluate)
		ims.POST("/:id/review", imHandler.Review)
		ims.POST("/:id/certify", imHandler.Certify)

		ims.GET("/:id/authors", authorHandler.List)
		ims.POST("/:id/authors", authorHandler.Add)
		ims.DELETE("/:id/authors/:userId", authorHandler.Remove)
		ims.PUT("/:id/authors/diff", authorHandler.ApplyDiff)

		ims.POST("/:id/certificates", certHandler.Generate)
		ims.GET("/:id/certificates", certHandler.List)
		ims.GET("/:id/certificates/batch", certHandler.LatestBatch)
	}

	// Signed token is the auth; no JWT on the fetch itself.
	api.GET("/files/:token", imHandler.File)

	api.GET("/certificates/:qrId/verify",
		middleware.Audit(userRepo, models.AuditActionCertVerify, "certificate"),
		certHandler.Verify)

	directory := api.Group("/directory", middleware.JWT(authService))
	{
		directory.GET("/:collegeId", directoryHandler.Directory)
		directory.GET("/:collegeId/workload", directoryHandler.Workload)
		directory.GET("/:collegeId/export", directoryHandler.Export)
	}

	metadata := api.Group("/metadata", middleware.JWT(authService))
	{
		metadata.GET("/colleges", metadataHandler.Colleges)
		metadata.GET("/departments/:id", metadataHandler.Department)
		metadata.GET("/subjects/:id", metadataHandler.Subject)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
