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

	_ "github.com/noah-isme/campus-registrar-api/api/swagger"
	"github.com/noah-isme/campus-registrar-api/internal/handler"
	"github.com/noah-isme/campus-registrar-api/internal/middleware"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	"github.com/noah-isme/campus-registrar-api/internal/service"
	"github.com/noah-isme/campus-registrar-api/pkg/cache"
	"github.com/noah-isme/campus-registrar-api/pkg/config"
	"github.com/noah-isme/campus-registrar-api/pkg/database"
	"github.com/noah-isme/campus-registrar-api/pkg/jobs"
	"github.com/noah-isme/campus-registrar-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-registrar-api/pkg/middleware/requestid"
)

// @title Campus Registrar API
// @version 0.1.0
// @description Scheduling and enrollment consistency engine for course sections
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, timetable cache disabled", "error", err)
		redisClient = nil
	}

	sectionRepo := repository.NewSectionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()

	scheduleSvc := service.NewScheduleService(scheduleRepo, sectionRepo, cacheRepo, cfg.Timetable.CacheTTL, validate, logr)
	sectionSvc := service.NewSectionService(sectionRepo, scheduleRepo, subjectRepo, enrollmentRepo, cfg.Export.MaxRows, validate, logr)
	waitlistSvc := service.NewWaitlistService(waitlistRepo, sectionRepo, enrollmentRepo, studentRepo, subjectRepo, metrics, validate, logr)
	reassignSvc := service.NewReassignmentService(sectionRepo, enrollmentRepo, scheduleRepo, validate, logr)

	var promotionQueue *jobs.Queue
	var enrollmentSvc *service.EnrollmentService
	if cfg.Waitlist.PromoteOnDrop {
		promotionQueue = jobs.NewQueue("waitlist-promotion", service.NewPromotionJobHandler(waitlistSvc, logr), jobs.QueueConfig{
			Workers:    cfg.Waitlist.QueueWorkers,
			BufferSize: cfg.Waitlist.QueueBuffer,
			MaxRetries: cfg.Waitlist.QueueRetries,
			RetryDelay: cfg.Waitlist.RetryDelay,
			Logger:     logr,
		})
		promotionQueue.Start(ctx)
		defer promotionQueue.Stop()
		dispatcher := service.NewPromotionDispatcher(promotionQueue, logr)
		enrollmentSvc = service.NewEnrollmentService(enrollmentRepo, sectionRepo, studentRepo, dispatcher, metrics, validate, logr)
	} else {
		enrollmentSvc = service.NewEnrollmentService(enrollmentRepo, sectionRepo, studentRepo, nil, metrics, validate, logr)
	}

	sectionHandler := handler.NewSectionHandler(sectionSvc, reassignSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	waitlistHandler := handler.NewWaitlistHandler(waitlistSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/sections", sectionHandler.List)
		api.POST("/sections", sectionHandler.Create)
		api.POST("/sections/check-conflict", scheduleHandler.CheckConflict)
		api.PATCH("/sections/bulk-status", sectionHandler.BulkStatus)
		api.GET("/sections/:id", sectionHandler.Get)
		api.PATCH("/sections/:id/status", sectionHandler.ChangeStatus)
		api.POST("/sections/:id/enroll", enrollmentHandler.Enroll)
		api.POST("/sections/:id/schedule", scheduleHandler.CreateAssignment)
		api.GET("/sections/:id/schedule", scheduleHandler.Timetable)
		api.GET("/sections/:id/roster/export", sectionHandler.ExportRoster)
		api.POST("/sections/:id/reassign", sectionHandler.Reassign)

		api.GET("/enrollments", enrollmentHandler.List)
		api.POST("/enrollments/:id/drop", enrollmentHandler.Drop)
		api.POST("/enrollments/:id/complete", enrollmentHandler.Complete)

		api.DELETE("/schedule-assignments/:id", scheduleHandler.CancelAssignment)

		api.POST("/waitlist", waitlistHandler.Join)
		api.POST("/waitlist/promote", waitlistHandler.Promote)
		api.POST("/waitlist/:id/cancel", waitlistHandler.Cancel)

		api.GET("/metrics/summary", metricsHandler.Summary)
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
