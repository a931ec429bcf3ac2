package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/loomchat/loomchat/internal/ai"
	"github.com/loomchat/loomchat/internal/chat"
	"github.com/loomchat/loomchat/internal/config"
	"github.com/loomchat/loomchat/internal/db"
	"github.com/loomchat/loomchat/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	var provider ai.Provider
	switch strings.ToLower(cfg.AIProvider) {
	case "", "ollama":
		provider = ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.TitleModel)
	case "openrouter":
		provider = ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			cfg.TitleModel, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
	default:
		log.Fatalf("unsupported AI_PROVIDER=%q", cfg.AIProvider)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	// declarations must match the publisher's topology exactly
	if _, err := ch.QueueDeclare(cfg.RabbitQueue+".dlq", true, false, false, false, nil); err != nil {
		log.Fatalf("dlq declare: %v", err)
	}
	if _, err := ch.QueueDeclare(cfg.RabbitQueue+".retry", true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue,
	}); err != nil {
		log.Fatalf("retry declare: %v", err)
	}
	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	}); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("title worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var job rabbitmq.TitleJob
				if err := json.Unmarshal(d.Body, &job); err != nil || job.ChatID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, provider, repo, job); err != nil {
					log.Printf("worker=%d title job chat=%s failed cost=%s err=%v",
						workerID, job.ChatID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed chat=%s err=%v", workerID, job.ChatID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob asks the model for a short title and stores it. A blank or
// failed generation falls back to the truncated first message so the chat
// never keeps an empty title.
func handleJob(ctx context.Context, provider ai.Provider, repo *chat.Repo, job rabbitmq.TitleJob) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	title, err := provider.Chat(cctx, ai.ChatRequest{
		System:   ai.TitlePrompt(),
		Messages: []ai.Message{{Role: "user", Content: job.Message}},
	})
	if err != nil {
		return err
	}

	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		title = ai.FallbackTitle(job.Message)
	}
	if len([]rune(title)) > 80 {
		title = string([]rune(title)[:80])
	}

	return repo.SetTitle(cctx, job.ChatID, title)
}
