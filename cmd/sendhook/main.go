// Command sendhook posts a signed Mercury delivery to a running server, for
// trying out subscriptions and rules without a real Mercury account.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"mercuryhooks/internal"
	"mercuryhooks/pkg/signature"
	"mercuryhooks/pkg/storage/subscriptions"
)

const sampleBody = `{"id":"evt_sample","resourceType":"transaction","operationType":"created","resourceId":"txn_sample","mergePatch":{"accountId":"acc_sample","amount":-42.50,"status":"pending","counterpartyName":"AWS","bankDescription":"AWS EMEA","type":"debit"}}`

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	id := flag.String("id", "", "Subscription id; its stored endpoint and secret are used")
	target := flag.String("url", "", "Override the endpoint")
	secret := flag.String("secret", "", "Override the base64 webhook secret")
	file := flag.String("file", "", "Body to send; - reads stdin, empty sends a sample transaction")
	flag.Parse()

	log.SetPrefix("mercuryhooks/sendhook ")
	log.SetFlags(0)

	if *id != "" && (*target == "" || *secret == "") {
		endpoint, stored, err := lookup(*configPath, *id)
		if err != nil {
			log.Fatal(err)
		}
		if *target == "" {
			*target = endpoint
		}
		if *secret == "" {
			*secret = stored
		}
	}
	if *target == "" || *secret == "" {
		log.Fatal("need -id, or both -url and -secret")
	}

	body, err := readBody(*file)
	if err != nil {
		log.Fatalf("read body: %v", err)
	}
	header, err := signature.Sign(body, *secret, time.Now())
	if err != nil {
		log.Fatalf("sign: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderName, header)
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		log.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, bytes.TrimSpace(reply))
}

func lookup(configPath, id string) (endpoint, secret string, err error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return "", "", fmt.Errorf("load config: %w", err)
	}
	store, err := subscriptions.Open(subscriptions.Config{
		Driver:  cfg.Storage.Driver,
		DSN:     cfg.Storage.DSN,
		Dialect: cfg.Storage.Dialect,
		Table:   cfg.Storage.Table,
	})
	if err != nil {
		return "", "", err
	}
	defer store.Close()

	record, err := store.GetSubscription(context.Background(), id)
	if err != nil {
		return "", "", err
	}
	if record == nil {
		return "", "", fmt.Errorf("subscription %s not found", id)
	}
	if record.WebhookSecret == "" {
		return "", "", fmt.Errorf("subscription %s has no webhook secret; is it active?", id)
	}
	return record.Endpoint, record.WebhookSecret, nil
}

func readBody(file string) ([]byte, error) {
	switch file {
	case "":
		return []byte(sampleBody), nil
	case "-":
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}
