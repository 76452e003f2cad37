package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"mercuryhooks/internal"
	"mercuryhooks/pkg/api"
	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/dispatch"
	"mercuryhooks/pkg/signature"
	"mercuryhooks/pkg/storage"
	"mercuryhooks/pkg/storage/subscriptions"
	"mercuryhooks/pkg/subscription"
	"mercuryhooks/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: internal.NewLogger("rules"),
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	db, err := subscriptions.Open(subscriptions.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Dialect:     config.Storage.Dialect,
		Table:       config.Storage.Table,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("subscription store: %v", err)
	}
	var store storage.Store = db
	if ttl := config.Storage.CacheTTL(); ttl > 0 {
		if store, err = storage.NewCachedStore(db, config.Storage.CacheEntries, ttl); err != nil {
			logger.Fatalf("subscription cache: %v", err)
		}
	}
	defer store.Close()

	resolver := auth.NewResolver(config.Mercury.Config)
	clientOptions := config.Mercury.ClientOptions()
	dispatcher := dispatch.NewDispatcher(signature.NewVerifier(config.Mercury.SignatureTolerance()))

	mux := http.NewServeMux()

	mercuryHandler := webhook.NewMercuryHandler(store, dispatcher, ruleEngine, publisher, webhook.MercuryOptions{
		DefaultTopic: config.Watermill.DefaultTopic,
		MaxBodyBytes: config.Server.MaxBodyBytes,
		DebugEvents:  config.Server.DebugEvents,
	}, internal.NewLogger("webhook"))
	webhookPattern := config.Mercury.WebhookPath + "{id}"
	mux.Handle(webhookPattern, internal.NewRateLimitHandler(
		mercuryHandler,
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
		10*time.Minute,
	))
	logger.Printf("mercury webhook enabled on %s", webhookPattern)

	(&api.SubscriptionsHandler{
		Store:         store,
		Manager:       subscription.NewManager(subscription.MercuryClientFactory(clientOptions...), internal.NewLogger("subscriptions")),
		Credentials:   resolver,
		PublicBaseURL: config.Server.PublicURL,
		WebhookPath:   config.Mercury.WebhookPath,
		Logger:        internal.NewLogger("api"),
	}).Register(mux)
	(&api.ToolsHandler{
		Credentials:   resolver,
		ClientOptions: clientOptions,
		Logger:        internal.NewLogger("tools"),
	}).Register(mux)

	if config.Server.MetricsEnabled {
		mux.Handle("GET "+config.Server.MetricsPath, expvar.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	if config.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, config.Server.MaxConnections)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s env=%s", addr, config.Mercury.Environment)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("serve: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
