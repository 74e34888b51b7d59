package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/epistola/epistola-auth/internal/botcheck"
	"github.com/epistola/epistola-auth/internal/cleanup"
	"github.com/epistola/epistola-auth/internal/config"
	"github.com/epistola/epistola-auth/internal/database"
	"github.com/epistola/epistola-auth/internal/handler"
	"github.com/epistola/epistola-auth/internal/mailer"
	"github.com/epistola/epistola-auth/internal/middleware"
	"github.com/epistola/epistola-auth/internal/router"
	"github.com/epistola/epistola-auth/internal/scope"
	"github.com/epistola/epistola-auth/internal/store/mysql"
	"github.com/epistola/epistola-auth/internal/token"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	st := mysql.NewStore(db)
	issuer := token.NewIssuer(cfg.JWTSecret)
	scopes := scope.NewValidator(st)

	var m mailer.Mailer = mailer.NewAMQPMailer(cfg.AMQPURL)
	if cfg.Env == "dev" {
		// Dev runs drain the queue into logs/mail.log instead of a real
		// mail worker.
		go func() {
			if err := mailer.StartFileConsumer(cfg.AMQPURL); err != nil {
				log.Printf("mail consumer: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanup.Run(ctx, st, time.Hour, log.Printf)

	var bot botcheck.Verifier = botcheck.Static(true)
	if cfg.TurnstileSecret != "" {
		bot = botcheck.NewTurnstile(cfg.TurnstileSecret)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, rate limiting disabled")
	}
	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, router.Handlers{
		Auth:       handler.NewAuthHandler(cfg, st, issuer, m, bot),
		TwoFactor:  handler.NewTwoFactorHandler(cfg, st, issuer, m, bot),
		Profile:    handler.NewProfileHandler(cfg, st, m),
		Epistolary: handler.NewEpistolaryHandler(cfg, st, m),
		Broker:     handler.NewOAuthSessionHandler(cfg, st, issuer, scopes),
		OAuth:      handler.NewOAuthServerHandler(cfg, st, issuer, scopes),
	}, issuer, rl)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
