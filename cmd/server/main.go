package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/maxzhirnov/otp-auth/internal/audit"
	"github.com/maxzhirnov/otp-auth/internal/config"
	"github.com/maxzhirnov/otp-auth/internal/events"
	"github.com/maxzhirnov/otp-auth/internal/httpserver"
	"github.com/maxzhirnov/otp-auth/internal/logging"
	"github.com/maxzhirnov/otp-auth/internal/mail"
	mw "github.com/maxzhirnov/otp-auth/internal/middleware"
	"github.com/maxzhirnov/otp-auth/internal/ratelimit"
	"github.com/maxzhirnov/otp-auth/internal/repo"
	"github.com/maxzhirnov/otp-auth/internal/service"
	"github.com/maxzhirnov/otp-auth/internal/tokens"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(cfg.LOG_LEVEL)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	tokenManager := &tokens.Manager{
		AccessSecret:  []byte(cfg.ACCESS_SECRET),
		RefreshSecret: []byte(cfg.REFRESH_SECRET),
		AccessTTL:     cfg.ACCESS_TTL,
		RefreshTTL:    cfg.REFRESH_TTL,
	}

	var producer *events.Producer
	if cfg.KAFKA_ADDRESS != "" {
		producer = events.NewProducer(cfg.KAFKA_ADDRESS, "auth_events")
	}

	var recorder *audit.Recorder
	if cfg.ES_URL != "" {
		esClient, err := audit.NewClient(cfg)
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
		recorder = &audit.Recorder{ES: esClient, Index: "auth_audit"}
	}

	authSvc := &service.AuthService{
		Repo:   &repo.GormRepo{DB: db},
		Tokens: tokenManager,
		Mailer: mail.NewResend(cfg.RESEND_API_KEY, cfg.RESEND_EMAIL, cfg.OTP_TTL),
		OTPTTL: cfg.OTP_TTL,
	}

	globalLimiter := ratelimit.New(ratelimit.Options{
		Limit:  cfg.GLOBAL_RATE_LIMIT,
		Window: cfg.GLOBAL_RATE_WINDOW,
	})
	otpLimiter := ratelimit.New(ratelimit.Options{
		Limit:  cfg.OTP_RATE_LIMIT,
		Window: cfg.OTP_RATE_WINDOW,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go globalLimiter.Run(sweepCtx, cfg.GLOBAL_RATE_WINDOW)
	go otpLimiter.Run(sweepCtx, cfg.OTP_RATE_WINDOW)

	e := echo.New()
	e.HideBanner = true
	e.Pre(echomw.RemoveTrailingSlash())
	e.Use(echomw.Recover(), echomw.RequestID())
	e.Use(mw.RequestLogger(logger))

	deps := httpserver.Deps{
		Auth: &httpserver.AuthHTTP{
			Svc:    authSvc,
			Tokens: tokenManager,
			Events: publisherOrNil(producer),
			Audit:  recorder,
			Secure: cfg.IsProduction(),
		},
		Admin:         &httpserver.AdminHTTP{Audit: recorder},
		GlobalLimiter: globalLimiter,
		OTPLimiter:    otpLimiter,
		Protector:     mw.NewProtector(tokenManager),
	}
	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         cfg.HTTP_ADDR,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}

// publisherOrNil avoids handing the handlers a non-nil interface wrapping a
// nil *events.Producer.
func publisherOrNil(p *events.Producer) events.Publisher {
	if p == nil {
		return nil
	}
	return p
}
