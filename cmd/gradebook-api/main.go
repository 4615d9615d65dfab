package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/gradebook-api/api/swagger"
	"github.com/noah-isme/gradebook-api/internal/handler"
	"github.com/noah-isme/gradebook-api/internal/middleware"
	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	"github.com/noah-isme/gradebook-api/internal/service"
	"github.com/noah-isme/gradebook-api/pkg/cache"
	"github.com/noah-isme/gradebook-api/pkg/config"
	"github.com/noah-isme/gradebook-api/pkg/database"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/gradebook-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/gradebook-api/pkg/middleware/requestid"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

// @title Gradebook API
// @version 1.0.0
// @description Course grading service: weighted finals, outlier detection and report exports
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()
	metricsService := service.NewMetricsService()

	cacheEnabled := true
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, report caching disabled", "error", err)
		cacheEnabled = false
	}
	var cacheService *service.CacheService
	if cacheEnabled {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
		cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Reports.CacheTTL, logr, true)
	} else {
		cacheService = service.NewCacheService(nil, metricsService, cfg.Reports.CacheTTL, logr, false)
	}

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	exportRepo := repository.NewExportRepository(db)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "gradebook-api",
	})
	userService := service.NewUserService(userRepo, validate, logr)
	reportService := service.NewReportService(courseRepo, enrollmentRepo, gradeRepo, cacheService, metricsService, cfg.Reports.CacheTTL, logr)
	courseService := service.NewCourseService(courseRepo, assignmentRepo, reportService, validate, logr)
	studentService := service.NewStudentService(studentRepo, validate, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, reportService, logr)
	gradeService := service.NewGradeService(gradeRepo, assignmentRepo, enrollmentRepo, userRepo, reportService, validate, logr)

	exportStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportService := service.NewExportService(reportService, courseRepo, studentRepo, exportStorage, logr)
	exportJobService := service.NewExportJobService(exportRepo, exportService, exportStorage, signer, cfg.APIPrefix, cfg.Exports.SignedURLTTL, logr)

	exportQueue := jobs.NewQueue("exports", exportJobService.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportJobService.SetQueue(exportQueue)
	exportQueue.Start(ctx)
	defer exportQueue.Stop()

	if err := exportJobService.RecoverPendingJobs(ctx); err != nil {
		logr.Sugar().Warnw("failed to recover pending export jobs", "error", err)
	}
	go exportJobService.StartCleanup(ctx, cfg.Exports.CleanupInterval)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	courseHandler := handler.NewCourseHandler(courseService)
	studentHandler := handler.NewStudentHandler(studentService, cfg.Imports.MaxRows)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService)
	gradeHandler := handler.NewGradeHandler(gradeService, cfg.Imports.MaxRows)
	reportHandler := handler.NewReportHandler(reportService)
	exportHandler := handler.NewExportHandler(exportJobService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleLecturer)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	v1 := r.Group(cfg.APIPrefix)
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.POST("/reset-password", authHandler.ResetPassword)

			authed := auth.Group("", middleware.JWT(authService))
			authed.POST("/logout", authHandler.Logout)
			authed.POST("/change-password", authHandler.ChangePassword)
			authed.GET("/me", authHandler.Me)
		}

		// Signed token downloads carry their own authorization.
		v1.GET("/export/:token", exportHandler.Download)

		api := v1.Group("", middleware.JWT(authService))
		{
			users := api.Group("/users", adminOnly)
			{
				users.POST("", userHandler.Create)
				users.GET("", userHandler.List)
				users.GET("/:id", userHandler.Get)
				users.PUT("/:id", userHandler.Update)
				users.DELETE("/:id", userHandler.Delete)
			}

			api.GET("/admin/metrics", adminOnly, metricsHandler.Snapshot)

			courses := api.Group("/courses")
			{
				courses.POST("", staff, courseHandler.Create)
				courses.GET("", courseHandler.List)
				courses.GET("/:id", courseHandler.Get)
				courses.PUT("/:id", staff, courseHandler.Update)
				courses.DELETE("/:id", adminOnly, courseHandler.Delete)

				courses.POST("/:id/assignments", staff, courseHandler.CreateAssignment)
				courses.GET("/:id/weights", staff, courseHandler.WeightStatus)
				courses.PUT("/:id/weights", staff, courseHandler.ReplaceWeights)

				courses.GET("/:id/enrollments", staff, enrollmentHandler.List)
				courses.POST("/:id/enrollments", staff, enrollmentHandler.Enroll)
				courses.DELETE("/:id/enrollments/:studentId", staff, enrollmentHandler.Drop)

				courses.POST("/:id/grades/bulk", staff, gradeHandler.Bulk)
				courses.POST("/:id/grades/import", staff,
					middleware.Audit(userRepo, models.AuditActionGradeOverwrite, "grade_import"),
					gradeHandler.Import)

				courses.GET("/:id/report", staff, reportHandler.CourseReport)
				courses.GET("/:id/students/:studentId/final", middleware.StudentSelfScope("studentId"), reportHandler.StudentFinal)
				courses.GET("/:id/students/:studentId/grades", middleware.StudentSelfScope("studentId"), gradeHandler.ListByStudent)
			}

			assignments := api.Group("/assignments", staff)
			{
				assignments.PUT("/:assignmentId", courseHandler.UpdateAssignment)
				assignments.DELETE("/:assignmentId", courseHandler.DeactivateAssignment)
			}

			students := api.Group("/students")
			{
				students.POST("", staff, studentHandler.Create)
				students.GET("", staff, studentHandler.List)
				students.POST("/import", staff, studentHandler.ImportRoster)
				students.GET("/:studentId", middleware.StudentSelfScope("studentId"), studentHandler.Get)
				students.PUT("/:studentId", staff, studentHandler.Update)
				students.DELETE("/:studentId", adminOnly, studentHandler.Delete)
			}

			grades := api.Group("/grades", staff)
			{
				grades.POST("", gradeHandler.Upsert)
				grades.DELETE("/:studentId/:assignmentId", gradeHandler.Delete)
			}

			exports := api.Group("/exports")
			{
				exports.POST("", staff, exportHandler.Create)
				exports.GET("/:jobId", exportHandler.Status)
			}
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
