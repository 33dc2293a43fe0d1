// chatd is a single-node relay for the messaging core: it resolves the
// caller from a bearer token, opens a Session per websocket and mirrors the
// session's observable state down the socket. Backends are picked from
// config; anything unconfigured falls back to the in-memory adapter.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/chat"
	"github.com/edulink/messaging/internal/config"
	"github.com/edulink/messaging/internal/events"
	"github.com/edulink/messaging/internal/identity"
	"github.com/edulink/messaging/internal/logger"
	"github.com/edulink/messaging/internal/model"
	"github.com/edulink/messaging/internal/objectstore"
	"github.com/edulink/messaging/internal/objectstore/memobject"
	"github.com/edulink/messaging/internal/objectstore/s3store"
	"github.com/edulink/messaging/internal/store"
	"github.com/edulink/messaging/internal/store/memstore"
	"github.com/edulink/messaging/internal/store/mongostore"
	"github.com/edulink/messaging/internal/transport"
	"github.com/edulink/messaging/internal/transport/memtransport"
	"github.com/edulink/messaging/internal/transport/redistransport"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	zl, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()

	var gw store.Gateway = memstore.New()
	if cfg.Mongo.URI != "" {
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			zl.Fatalw("mongo connect failed", "err", err)
		}
		defer func() { _ = client.Disconnect(ctx) }()
		gw = mongostore.New(client.Database(cfg.Mongo.DB))
	}

	var rt transport.Transport = memtransport.New()
	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rc.Close() }()
		rt = redistransport.New(rc, cfg.Redis.Prefix, zl)
	}

	var blobs objectstore.Store = memobject.New()
	if cfg.S3.Bucket != "" {
		s3, err := s3store.New(ctx, cfg.S3.Region, cfg.S3.Bucket)
		if err != nil {
			zl.Fatalw("s3 init failed", "err", err)
		}
		blobs = s3
	}

	pub := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.MessageTopic, zl)
	defer func() { _ = pub.Close() }()

	resolver := identity.NewResolver(cfg.JWT.Secret)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		serveSocket(c, gw, rt, blobs, pub, resolver, zl)
	}))

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		zl.Infow("starting chatd", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zl.Fatalw("server error", "err", e)
	case s := <-sig:
		zl.Infow("signal received", "signal", s.String())
	}
	if err := app.Shutdown(); err != nil {
		zl.Warnw("shutdown", "err", err)
	}
}

type command struct {
	Action         string   `json:"action"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Content        string   `json:"content,omitempty"`
	Type           string   `json:"type,omitempty"`
	Kind           string   `json:"kind,omitempty"`
	Name           string   `json:"name,omitempty"`
	Members        []string `json:"members,omitempty"`
}

type snapshot struct {
	Active        string                  `json:"active"`
	Conversations []chat.ConversationView `json:"conversations"`
	Messages      []chat.MessageView      `json:"messages"`
	TypingUsers   map[string]string       `json:"typing_users"`
	OnlineUsers   []string                `json:"online_users"`
}

func serveSocket(c *websocket.Conn, gw store.Gateway, rt transport.Transport, blobs objectstore.Store, pub *events.Publisher, resolver *identity.Resolver, zl *zap.SugaredLogger) {
	ctx := context.Background()

	ident, err := resolver.Resolve(c.Query("token"))
	if err != nil {
		_ = c.WriteJSON(fiber.Map{"error": "unauthorized"})
		_ = c.Close()
		return
	}

	sess, err := chat.Open(ctx, chat.Options{
		Store:     gw,
		Transport: rt,
		Objects:   blobs,
		Events:    pub,
		User:      model.Profile{ID: ident.UserID, DisplayName: ident.DisplayName},
	})
	if err != nil {
		zl.Warnw("session open failed", "user", ident.UserID, "err", err)
		_ = c.Close()
		return
	}
	defer sess.Close(ctx)

	// Single writer; onChange only signals.
	dirty := make(chan struct{}, 1)
	done := make(chan struct{})
	sess.SetOnChange(func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-dirty:
				snap := snapshot{
					Active:        sess.ActiveConversation(),
					Conversations: sess.Conversations(),
					Messages:      sess.Messages(),
					TypingUsers:   sess.TypingUsers(),
					OnlineUsers:   sess.OnlineUsers(),
				}
				if err := c.WriteJSON(snap); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	if err := sess.FetchConversations(ctx); err != nil {
		zl.Warnw("initial list fetch failed", "user", ident.UserID, "err", err)
	}

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "select":
			if err := sess.SelectConversation(ctx, cmd.ConversationID); err != nil {
				zl.Warnw("select failed", "conversation", cmd.ConversationID, "err", err)
			}
		case "send":
			msgType := cmd.Type
			if msgType == "" {
				msgType = model.TypeText
			}
			if _, err := sess.SendMessage(ctx, cmd.Content, msgType, nil); err != nil {
				zl.Warnw("send failed", "user", ident.UserID, "err", err)
			}
		case "typing":
			_ = sess.BroadcastTyping(ctx)
		case "create":
			if _, err := sess.CreateConversation(ctx, cmd.Kind, cmd.Name, cmd.Members); err != nil {
				zl.Warnw("create failed", "user", ident.UserID, "err", err)
			}
		}
	}
}
