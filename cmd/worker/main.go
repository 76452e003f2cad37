package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mercuryhooks/cmd/worker/controllers"
	"mercuryhooks/internal"
	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	driver := flag.String("driver", "", "Override subscriber driver (amqp|nats|kafka|sql|gochannel)")
	concurrency := flag.Int("concurrency", 5, "Messages handled at once")
	flag.Parse()

	log.SetPrefix("mercuryhooks/worker ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appCfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	subCfg := worker.SubscriberSettings(appCfg.Watermill)
	if *driver != "" {
		subCfg.Driver = *driver
		subCfg.Drivers = nil
	}
	topics := worker.Topics(appCfg)

	sub, err := worker.BuildSubscriber(subCfg)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.Printf("subscriber close: %v", err)
		}
	}()

	resolver := auth.NewResolver(appCfg.Mercury.Config)
	wk := worker.New(
		worker.WithSubscriber(sub),
		worker.WithTopics(topics...),
		worker.WithConcurrency(*concurrency),
		worker.WithRetry(worker.RetryTransient{}),
		worker.WithClientProvider(worker.MercuryClients(resolver, appCfg.Mercury.ClientOptions()...)),
		worker.WithListener(worker.Listener{
			OnStart: func(ctx context.Context) { log.Printf("worker started topics=%v", topics) },
			OnExit:  func(ctx context.Context) { log.Println("worker stopped") },
			OnError: func(ctx context.Context, evt *worker.Event, err error) {
				log.Printf("worker error: %v", err)
			},
		}),
	)
	wk.HandleType("transaction.created", controllers.HandleTransactionCreated)
	wk.HandleType("transaction.updated", controllers.HandleTransactionUpdated)

	if err := wk.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
