package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"househunter/internal/app/dto"
	"househunter/internal/app/policies"
	"househunter/internal/app/session"
	"househunter/internal/domain/chat"
	"househunter/internal/infra/api"
	"househunter/internal/infra/broker/kafka"
	"househunter/internal/infra/config"
	mongodb "househunter/internal/infra/db/mongo"
	ginserver "househunter/internal/infra/http/gin"
	"househunter/internal/infra/notify"
	"househunter/internal/infra/obs"
	"househunter/internal/infra/poll"
	"househunter/internal/infra/storage/memory"
	"househunter/internal/infra/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	go app.session.Run(ctx)

	// The per-house chat channel connects when a conversation is opened; only
	// the broadcast feeds connect at startup.
	for _, ch := range app.feedChannels {
		if err := ch.Connect(ctx); err != nil {
			logger.Warn("feed channel connect failed, retrying in background", "channel", ch.Key(), "error", err)
		}
	}
	go app.poller.Run(ctx)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: app.ready,
	}, ginserver.Handlers{Chat: app.handler})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("chat sync daemon starting", "addr", cfg.HTTPAddr, "user_id", cfg.UserID)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat sync daemon stopped")
}

type application struct {
	session      *session.Session
	handler      ginserver.ChatHandler
	chat         *transport.ChatChannels
	feedChannels []*transport.Channel
	poller       *poll.Poller
	mongo        *mongodb.Client
	producer     *kafka.Producer
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	apiClient, err := api.NewClient(api.Config{
		BaseURL:   cfg.APIBaseURL,
		AuthToken: cfg.AuthToken,
		UserID:    cfg.UserID,
	}, logger)
	if err != nil {
		return nil, err
	}

	app := &application{}

	var markers chat.MarkerStore
	if cfg.MarkerMode == "mongo" {
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		app.mongo = client
		markers = mongodb.NewMarkerStore(client)
	} else {
		markers = memory.NewMarkerStore()
	}
	tracker := chat.NewReadStateTracker(cfg.UserID, markers)

	var notifier policies.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, err
		}
		app.producer = producer
		notifier = notify.NewKafkaNotifier(producer, cfg.KafkaTopic)
	} else {
		logger.Info("kafka brokers not configured, notifications disabled")
	}

	app.chat = transport.NewChatChannels(cfg.WSBaseURL, cfg.AuthToken, logger)
	paymentsChannel := transport.NewChannel(cfg.WSBaseURL, "payment-completions", cfg.AuthToken, logger)
	housesChannel := transport.NewChannel(cfg.WSBaseURL, "house-status", cfg.AuthToken, logger)
	favoritesChannel := transport.NewChannel(cfg.WSBaseURL, "favorites-cleanup", cfg.AuthToken, logger)
	app.feedChannels = []*transport.Channel{paymentsChannel, housesChannel, favoritesChannel}

	sess := session.New(session.Config{
		UserID:   cfg.UserID,
		API:      apiClient,
		Tracker:  tracker,
		Notifier: notifier,
		Realtime: app.chat,
		Logger:   logger,
	})
	app.session = sess

	app.chat.OnMessage(func(frame transport.Frame) {
		switch frame.Type {
		case transport.FrameChatMessage:
			msg, ok := decodeChatMessage(cfg.UserID, frame, logger)
			if !ok {
				return
			}
			sess.HandleIncoming(ctx, msg)
			obs.AddReconciled(1)
		case transport.FrameHouseDeleted:
			var event transport.HouseEventFrame
			if err := json.Unmarshal(frame.Raw, &event); err == nil {
				sess.HandleHouseDeleted(event.HouseID)
			}
		default:
			logger.Debug("unhandled chat frame", "type", frame.Type)
		}
	})
	housesChannel.OnMessage(func(frame transport.Frame) {
		var event transport.HouseEventFrame
		if err := json.Unmarshal(frame.Raw, &event); err != nil {
			logger.Warn("house event decode failed", "error", err)
			return
		}
		if frame.Type == transport.FrameHouseDeleted {
			sess.HandleHouseDeleted(event.HouseID)
			return
		}
		logger.Info("house status update", "house_id", event.HouseID, "status", event.Status)
	})
	paymentsChannel.OnMessage(func(frame transport.Frame) {
		var event transport.PaymentCompletedFrame
		if err := json.Unmarshal(frame.Raw, &event); err != nil {
			logger.Warn("payment event decode failed", "error", err)
			return
		}
		logger.Info("payment completed", "payment_id", event.PaymentID, "house_id", event.HouseID)
	})
	favoritesChannel.OnMessage(func(frame transport.Frame) {
		var event transport.HouseEventFrame
		if err := json.Unmarshal(frame.Raw, &event); err != nil {
			logger.Warn("favorites event decode failed", "error", err)
			return
		}
		if frame.Type == transport.FrameHouseDeleted || frame.Type == transport.FrameFavoritesCleanup {
			sess.HandleHouseDeleted(event.HouseID)
			return
		}
		logger.Info("favorites feed event", "type", frame.Type, "house_id", event.HouseID)
	})

	// The poller watches whichever conversation is open. Fetch, Seen and
	// Apply run sequentially inside one tick, so the key captured by Fetch
	// stays coherent for the whole pass.
	var watched chat.ConversationKey
	app.poller = &poll.Poller{
		Interval: cfg.PollInterval,
		Fetch: func(fetchCtx context.Context) ([]chat.Message, error) {
			watched = sess.Selected()
			if watched.IsZero() {
				return nil, nil
			}
			return apiClient.ListMessages(fetchCtx, watched)
		},
		Seen: func() map[string]struct{} { return sess.SeenIDs(watched) },
		Apply: func(msgs []chat.Message) {
			sess.HandlePollBatch(ctx, watched, msgs)
			obs.AddReconciled(len(msgs))
		},
		Logger: logger,
	}

	app.handler = ginserver.ChatHandler{
		Session: sess,
		Channels: func() []dto.ChannelStatus {
			chatKey, chatStatus := app.chat.Status()
			out := make([]dto.ChannelStatus, 0, len(app.feedChannels)+1)
			out = append(out, dto.ChannelStatus{Name: chatKey, Status: string(chatStatus)})
			for _, ch := range app.feedChannels {
				out = append(out, dto.ChannelStatus{Name: ch.Key(), Status: string(ch.Status())})
			}
			return out
		},
		Logger: logger,
	}
	return app, nil
}

func (a *application) ready() error {
	if a.mongo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.mongo.Ping(ctx)
}

func (a *application) close(logger *slog.Logger) {
	if a.chat != nil {
		if err := a.chat.Disconnect(); err != nil {
			logger.Warn("chat channel close failed", "error", err)
		}
	}
	for _, ch := range a.feedChannels {
		if err := ch.Disconnect(); err != nil {
			logger.Warn("feed channel close failed", "channel", ch.Key(), "error", err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}
}

func decodeChatMessage(userID string, frame transport.Frame, logger *slog.Logger) (chat.Message, bool) {
	var wire transport.ChatMessageFrame
	if err := json.Unmarshal(frame.Raw, &wire); err != nil {
		logger.Warn("chat frame decode failed", "error", err)
		return chat.Message{}, false
	}
	counterpart := wire.SenderID
	if counterpart == userID {
		counterpart = wire.ReceiverID
	}
	return chat.Message{
		ID:         wire.ID,
		Key:        chat.ConversationKey{CounterpartID: counterpart, HouseID: wire.HouseID},
		SenderID:   wire.SenderID,
		ReceiverID: wire.ReceiverID,
		Text:       wire.Text,
		Timestamp:  wire.Timestamp,
		Read:       wire.Read,
	}, true
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
