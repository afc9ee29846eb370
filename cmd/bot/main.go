package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Staritsin/photo-live/internal/admin"
	"github.com/Staritsin/photo-live/internal/config"
	"github.com/Staritsin/photo-live/internal/database"
	"github.com/Staritsin/photo-live/internal/gateway"
	"github.com/Staritsin/photo-live/internal/kling"
	"github.com/Staritsin/photo-live/internal/repository"
	"github.com/Staritsin/photo-live/internal/service"
	"github.com/Staritsin/photo-live/internal/sheets"
	"github.com/Staritsin/photo-live/internal/storage"
	"github.com/Staritsin/photo-live/internal/telegram"
	"github.com/Staritsin/photo-live/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.Debug)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	botAPI.Debug = cfg.Debug

	var audit service.AuditSink = service.NopSink{}
	if cfg.SheetsEnabled {
		sink, err := sheets.NewSink(cfg, logr)
		if err != nil {
			log.Fatalf("sheets sink: %v", err)
		}
		defer sink.Close()
		audit = sink
	}

	var gw gateway.Gateway
	switch cfg.PaymentProvider {
	case "yookassa":
		gw = gateway.NewYooKassa(cfg, logr)
	default:
		gw = gateway.NewTinkoff(cfg, logr)
	}

	store := repository.NewStore(db)
	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	referralRepo := repository.NewReferralRepository(db)

	userService := service.NewUserService(logr, userRepo, audit)
	ledgerService := service.NewLedgerService(cfg, logr, store, audit)
	referralService := service.NewReferralService(cfg, logr, referralRepo, audit)
	paymentService := service.NewPaymentService(cfg, logr, store, paymentRepo, referralRepo, ledgerService, gw, audit)

	animator := kling.NewClient(cfg, logr)

	uploader, err := storage.NewUploader(cfg)
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	bot := telegram.NewBot(cfg, botAPI, logr, userService, ledgerService, paymentService, referralService, animator, uploader)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, ledgerService, paymentService, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
