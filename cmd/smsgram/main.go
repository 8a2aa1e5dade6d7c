package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/smsgram/smsgram/pkg/config"
	"github.com/smsgram/smsgram/pkg/directory"
	"github.com/smsgram/smsgram/pkg/kv"
	"github.com/smsgram/smsgram/pkg/ledger"
	"github.com/smsgram/smsgram/pkg/logger"
	"github.com/smsgram/smsgram/pkg/relay"
	"github.com/smsgram/smsgram/pkg/smsgw"
	"github.com/smsgram/smsgram/pkg/telegram"
	"github.com/smsgram/smsgram/pkg/webhook"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.FatalCF("main", "Failed to load config", map[string]interface{}{
			"path":  *configPath,
			"error": err.Error(),
		})
	}
	if err := cfg.Validate(); err != nil {
		logger.FatalCF("main", "Invalid config", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if cfg.Logging.Debug {
		logger.SetLevel(logger.DEBUG)
	}
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.Logging.FilePath); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := kv.NewClient(cfg.KV.URL, cfg.KV.AppKey)
	gateway := smsgw.New(cfg.Gateway)

	chat, err := telegram.NewClient(cfg.Telegram.Token)
	if err != nil {
		logger.FatalCF("main", "Failed to create telegram client", map[string]interface{}{
			"error": err.Error(),
		})
	}

	topics := directory.NewTopics(store, chat)
	devices := directory.NewDevices(store)
	engine := relay.NewEngine(
		chat,
		gateway,
		topics,
		devices,
		ledger.NewReceivedGuard(store),
		ledger.NewSentLedger(store),
	)

	bot := telegram.NewBot(chat, engine, topics, devices, gateway)
	if err := bot.Start(ctx); err != nil {
		logger.FatalCF("main", "Failed to start bot", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if cfg.Server.PublicURL != "" {
		url := strings.TrimSuffix(cfg.Server.PublicURL, "/") + "/sms-webhook"
		keeper, err := webhook.NewKeeper(gateway, url, cfg.Server.WebhookCron)
		if err != nil {
			logger.FatalCF("main", "Invalid webhook keeper config", map[string]interface{}{
				"error": err.Error(),
			})
		}
		go keeper.Start(ctx)
	}

	server := webhook.NewServer(engine)
	if err := server.ListenAndServe(ctx, cfg.Server.Port); err != nil {
		logger.ErrorCF("main", "Server failed", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}
