// relaychat chat - terminal consumer of the conversation session
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/config"
	"github.com/akazantsev/relaychat/internal/domain"
	"github.com/akazantsev/relaychat/internal/session"
	"github.com/akazantsev/relaychat/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close session store", "error", closeErr)
		}
	}()

	client := backend.New(cfg.APIBaseURL, cfg.RequestTimeout)
	bootstrapper := session.NewBootstrapper(repo, client, logger)

	var factory session.TransportFactory
	switch cfg.Transport {
	case config.TransportPush:
		factory = func(sink session.Sink) session.Transport {
			return session.NewPushTransport(cfg.RealtimeURL, cfg.Reconnect, logger, sink)
		}
	default:
		factory = func(sink session.Sink) session.Transport {
			return session.NewPollTransport(client, cfg.PollInterval, logger, sink)
		}
	}

	sess := session.New(bootstrapper, factory, cfg.TypingTimeout, logger)
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize session", "error", err)
		fmt.Fprintln(os.Stderr, "could not reach the chat service; check API_BASE_URL and try again")
		os.Exit(1)
	}

	messages := sess.SubscribeMessages()
	typing := sess.SubscribeTyping()

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				prefix := "bot"
				if msg.Origin == domain.OriginUser {
					prefix = "you"
				}
				fmt.Printf("%s> %s\n", prefix, msg.Text)
			case isTyping, ok := <-typing:
				if !ok {
					return
				}
				if isTyping {
					fmt.Println("bot is typing...")
				}
			}
		}
	}()

	fmt.Println("connected. type a message, /new for a fresh conversation, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "/quit":
			return
		case "/new":
			if err := sess.StartNewConversation(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "could not start a new conversation:", err)
			} else {
				fmt.Println("started a new conversation.")
			}
		default:
			if err := sess.SendMessage(ctx, line); err != nil {
				logger.Warn("Send failed", "error", err)
			}
		}
	}
}
