// Command worker runs the verihost queue worker: it pulls addresses off a
// Redis queue, runs them through the tiered dispatcher, and writes results
// back to the verdict store. It is the direct descendant of the original
// Redis-queue worker, rebuilt around internal/dispatcher instead of inline
// SMTP logic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/devyanshu/verihost/internal/config"
	"github.com/devyanshu/verihost/internal/dispatcher"
	"github.com/devyanshu/verihost/internal/enrichment"
	"github.com/devyanshu/verihost/internal/mxresolve"
	"github.com/devyanshu/verihost/internal/pattern"
	"github.com/devyanshu/verihost/internal/smtpprobe"
	"github.com/devyanshu/verihost/internal/verdictstore"
)

const (
	workerCount        = 50
	queueKey           = "email_queue"
	retryQueueKey      = "email_retry_queue"
	retryDelaySeconds  = 900
	retryCheckInterval = 30 * time.Second
)

// job mirrors the wire shape pushed onto the Redis queue by the web tier.
type job struct {
	JobID string `json:"jobId"`
	Email string `json:"email"`
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.WithFields(logrus.Fields{
		"hostname": cfg.WorkerHostname,
		"dev_mode": cfg.IsDevMode,
	}).Info("starting verihost worker")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	log.Info("connected to redis")

	var durable verdictstore.Store
	if cfg.CacheBackend == config.BackendRemote {
		sqlStore, err := verdictstore.OpenSQLStore(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to open durable verdict store")
		}
		defer sqlStore.Close()
		durable = sqlStore
		log.Info("connected to postgres verdict store")
	} else {
		durable = verdictstore.NewMemoryStore()
		log.Info("using in-process embedded verdict store")
	}

	facts := verdictstore.NewRedisFacts(redisClient, cfg.CatchAllTTL)
	store := verdictstore.NewLayered(durable, facts)

	resolver := mxresolve.New(cfg.MXCacheTTL)

	var proxyCfg *smtpprobe.ProxyConfig
	if cfg.Socks5Proxy != "" {
		proxyCfg = &smtpprobe.ProxyConfig{
			Address:  cfg.Socks5Proxy,
			Username: cfg.Socks5User,
			Password: cfg.Socks5Pass,
		}
		log.WithField("proxy", cfg.Socks5Proxy).Info("SOCKS5 proxy configured")
	} else if !cfg.IsDevMode {
		log.Warn("SOCKS5_PROXY not set in production mode: probes will originate from this host's IP")
	}

	prober := smtpprobe.New(smtpprobe.Config{
		HeloDomain:     cfg.HeloDomain,
		FromAddress:    cfg.FromAddress,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		OverallBudget:  cfg.RequestBudget,
		Proxy:          proxyCfg,
	})

	var waterfall *enrichment.Waterfall
	if cfg.EnrichmentEnabled {
		waterfall = &enrichment.Waterfall{}
		if cfg.EnrichmentCheapURL != "" {
			waterfall.Cheap = enrichment.NewHTTPProvider(cfg.EnrichmentCheapURL, enrichment.Cheap)
		}
		if cfg.EnrichmentExpensiveURL != "" {
			waterfall.Expensive = enrichment.NewHTTPProvider(cfg.EnrichmentExpensiveURL, enrichment.Expensive)
		}
	}

	disp := dispatcher.New(cfg, store, resolver, prober, waterfall, log)

	jobChan := make(chan job, workerCount*2)
	for i := 0; i < workerCount; i++ {
		go runWorker(ctx, i+1, jobChan, disp, redisClient, log)
	}
	log.WithField("workers", workerCount).Info("worker pool started")

	go retryMonitor(ctx, redisClient, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			close(jobChan)
			log.Info("worker stopped")
			return
		default:
		}

		result, err := redisClient.BRPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("error reading from queue")
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var j job
		if err := json.Unmarshal([]byte(result[1]), &j); err != nil {
			log.WithError(err).Warn("failed to parse job")
			continue
		}

		select {
		case jobChan <- j:
		default:
			log.WithField("email", j.Email).Warn("worker pool full, dropping job")
		}
	}
}

func runWorker(ctx context.Context, id int, jobChan <-chan job, disp *dispatcher.Dispatcher, redisClient *redis.Client, log *logrus.Logger) {
	for j := range jobChan {
		processJob(ctx, id, j, disp, redisClient, log)
	}
}

func processJob(ctx context.Context, workerID int, j job, disp *dispatcher.Dispatcher, redisClient *redis.Client, log *logrus.Logger) {
	entry := log.WithFields(logrus.Fields{"worker": workerID, "email": j.Email, "job_id": j.JobID})
	entry.Info("checking address")

	resp, err := disp.Verify(ctx, dispatcher.Request{Address: j.Email, Hints: pattern.Hints{}})
	if err != nil {
		entry.WithError(err).Warn("verification error")
		return
	}

	if resp.Reachability == verdictstore.Unknown && isRetryableReason(resp.DebugReason) {
		retryJob(ctx, redisClient, j, entry)
		return
	}

	entry.WithFields(logrus.Fields{
		"reachability": resp.Reachability,
		"tier":         resp.DebugTier,
		"catch_all":    resp.CatchAll,
	}).Info("verification complete")
}

// isRetryableReason matches the greylist/transient reasons that should be
// requeued rather than recorded as a final verdict (spec §4.4 state table).
func isRetryableReason(reason string) bool {
	return reason == "cause=greylist_no_retry" || reason == "cause=smtp_transient"
}

func retryJob(ctx context.Context, redisClient *redis.Client, j job, entry *logrus.Entry) {
	payload, err := json.Marshal(j)
	if err != nil {
		entry.WithError(err).Warn("failed to serialize job for retry queue")
		return
	}
	retryAt := time.Now().Unix() + retryDelaySeconds
	if err := redisClient.ZAdd(ctx, retryQueueKey, redis.Z{Score: float64(retryAt), Member: string(payload)}).Err(); err != nil {
		entry.WithError(err).Warn("failed to enqueue retry")
		return
	}
	entry.WithField("retry_at", time.Unix(retryAt, 0).Format(time.RFC3339)).Info("queued for retry")
}

// retryMonitor moves due retry-queue entries back onto the main queue.
func retryMonitor(ctx context.Context, redisClient *redis.Client, log *logrus.Logger) {
	ticker := time.NewTicker(retryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			items, err := redisClient.ZRangeByScore(ctx, retryQueueKey, &redis.ZRangeBy{
				Min: "-inf",
				Max: fmt.Sprintf("%d", now),
			}).Result()
			if err != nil {
				log.WithError(err).Warn("error reading retry queue")
				continue
			}
			for _, itemJSON := range items {
				if removed, err := redisClient.ZRem(ctx, retryQueueKey, itemJSON).Result(); err != nil || removed == 0 {
					continue
				}
				if err := redisClient.LPush(ctx, queueKey, itemJSON).Err(); err != nil {
					log.WithError(err).Warn("failed to requeue retry item")
					redisClient.ZAdd(ctx, retryQueueKey, redis.Z{Score: float64(now + retryDelaySeconds), Member: itemJSON})
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
