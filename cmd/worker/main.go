// Command worker consumes finished chat turns from RabbitMQ and archives them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/db"
	"github.com/suPer8Hu/gopherchat/internal/logging"
	"github.com/suPer8Hu/gopherchat/internal/retry"
	"github.com/suPer8Hu/gopherchat/internal/store/rabbitmq"
)

const maxDeliveries = 5

var errBadMessage = errors.New("worker: bad message")

var configPath = flag.String("config", "", "Path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.RabbitURL == "" {
		logger.Fatal("RABBIT_URL is required")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)
	if err := repo.Migrate(context.Background()); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Fatal("declare topology", zap.Error(err))
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	backoff := retry.Linear(cfg.RetryBaseDelay)
	var pubMu sync.Mutex

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := logger.With(zap.Int("worker", workerID))
			for d := range jobs {
				start := time.Now()
				ev, stored, err := handleTurn(ctx, repo, d.Body)
				attempt := rabbitmq.Attempt(d)

				switch {
				case err == nil:
					wlog.Debug("turn archived",
						zap.String("message_id", ev.MessageID),
						zap.Bool("duplicate", !stored),
						zap.Duration("cost", time.Since(start)))
					if err := d.Ack(false); err != nil {
						wlog.Warn("ack failed", zap.String("message_id", ev.MessageID), zap.Error(err))
					}

				case errors.Is(err, errBadMessage) || attempt >= maxDeliveries:
					wlog.Error("turn dead-lettered", zap.Int("attempt", attempt), zap.Error(err))
					_ = d.Nack(false, false)

				default:
					wlog.Warn("archive failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
					pubMu.Lock()
					rerr := rabbitmq.Requeue(ctx, ch, cfg.RabbitQueue, d, backoff(attempt))
					pubMu.Unlock()
					if rerr != nil {
						wlog.Error("requeue failed", zap.Error(rerr))
						_ = d.Nack(false, false)
						continue
					}
					_ = d.Ack(false)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleTurn stores one encoded TurnEvent. stored is false when the turn was
// archived by an earlier delivery.
func handleTurn(ctx context.Context, repo *chat.Repo, body []byte) (chat.TurnEvent, bool, error) {
	var ev chat.TurnEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, false, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	if ev.MessageID == "" || !ev.Status.Terminal() {
		return ev, false, fmt.Errorf("%w: message_id=%q status=%q", errBadMessage, ev.MessageID, ev.Status)
	}

	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stored, err := repo.ArchiveTurn(actx, chat.NewArchivedTurn(ev))
	if err != nil {
		return ev, false, fmt.Errorf("worker: archive %s: %w", ev.MessageID, err)
	}
	return ev, stored, nil
}
