package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-wrap/internal/blobstore"
	"github.com/juno-intents/confidential-wrap/internal/conversion"
	"github.com/juno-intents/confidential-wrap/internal/fhegateway"
	"github.com/juno-intents/confidential-wrap/internal/inflight"
	inflightpg "github.com/juno-intents/confidential-wrap/internal/inflight/postgres"
	pendingpg "github.com/juno-intents/confidential-wrap/internal/pending/postgres"
	"github.com/juno-intents/confidential-wrap/internal/queue"
	"github.com/juno-intents/confidential-wrap/internal/secrets"
	"github.com/juno-intents/confidential-wrap/internal/shield"
	"github.com/juno-intents/confidential-wrap/internal/unshield"
	"github.com/juno-intents/confidential-wrap/internal/wallet"
)

func main() {
	var (
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required)")

		rpcURL  = flag.String("rpc-url", "", "EVM JSON-RPC URL (required)")
		chainID = flag.Uint64("chain-id", 0, "EVM chain id (required)")
		backend = flag.String("backend", wallet.BackendDirect, "wallet backend: direct|legacy")

		secretsDriver = flag.String("secrets-driver", secrets.DriverEnv, "signing key source: env|aws")
		keyName       = flag.String("key", "CONVERSION_WORKER_PRIVATE_KEY", "env var or secret id (secret-id#field) holding the signing key")

		gatewayURL      = flag.String("gateway-url", "", "FHE gateway base URL (required)")
		gatewayTokenEnv = flag.String("gateway-token-env", "FHE_GATEWAY_TOKEN", "env var containing the gateway bearer token")

		blobDriver = flag.String("blob-driver", "", "optional artifact store: memory|s3")
		blobBucket = flag.String("blob-bucket", "", "S3 bucket for artifacts")
		blobPrefix = flag.String("blob-prefix", "", "artifact key prefix")

		owner          = flag.String("owner", "", "unique worker owner id (required; used for in-flight leases)")
		leaseTTL       = flag.Duration("lease-ttl", inflight.DefaultTTL, "in-flight lease TTL")
		receiptTimeout = flag.Duration("receipt-timeout", wallet.DefaultReceiptTimeout, "per-transaction receipt wait")
		pollInterval   = flag.Duration("poll-interval", wallet.DefaultPollInterval, "receipt poll interval")
		requestTimeout = flag.Duration("request-timeout", 10*time.Minute, "per-request timeout")
		resumeInterval = flag.Duration("resume-interval", time.Minute, "interval between retries of burnt, unfinalized unshields")
		maxAttempts    = flag.Int("max-finalize-attempts", conversion.DefaultMaxAttempts, "automatic finalize attempts per burn")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers  = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup    = flag.String("queue-group", "conversion-worker", "queue consumer group (required for kafka)")
		queueTopics   = flag.String("queue-topics", conversion.RequestVersion, "comma-separated request topics")
		resultTopic   = flag.String("result-topic", conversion.ResultVersion, "topic for conversion results")
		maxLineBytes  = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size for stdio driver (bytes)")
		queueMaxBytes = flag.Int("queue-max-bytes", 10<<20, "maximum kafka message size for consumer reads (bytes)")
		ackTimeout    = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *postgresDSN == "" || *rpcURL == "" || *chainID == 0 || *gatewayURL == "" || *owner == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn, --rpc-url, --chain-id, --gateway-url, and --owner are required")
		os.Exit(2)
	}
	if *leaseTTL <= 0 || *receiptTimeout <= 0 || *pollInterval <= 0 || *requestTimeout <= 0 || *resumeInterval <= 0 || *ackTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: durations must be > 0")
		os.Exit(2)
	}
	if *maxLineBytes <= 0 || *queueMaxBytes <= 0 || *maxAttempts <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-line-bytes, --queue-max-bytes and --max-finalize-attempts must be > 0")
		os.Exit(2)
	}
	gatewayToken := os.Getenv(*gatewayTokenEnv)
	if gatewayToken == "" {
		fmt.Fprintf(os.Stderr, "error: missing gateway auth token in env %s\n", *gatewayTokenEnv)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := secrets.Open(ctx, *secretsDriver)
	if err != nil {
		log.Error("init secrets provider", "err", err)
		os.Exit(2)
	}
	key, err := secrets.LoadPrivateKey(ctx, provider, *keyName)
	if err != nil {
		log.Error("load signing key", "err", err)
		os.Exit(2)
	}

	actions, closeNode, err := wallet.Dial(ctx, wallet.DialConfig{
		RPCURL:         *rpcURL,
		ChainID:        *chainID,
		Key:            key,
		Backend:        *backend,
		ReceiptTimeout: *receiptTimeout,
		PollInterval:   *pollInterval,
	})
	if err != nil {
		log.Error("init wallet", "err", err)
		os.Exit(2)
	}
	defer closeNode()

	gw, err := fhegateway.NewClient(*gatewayURL, gatewayToken, fhegateway.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	if err != nil {
		log.Error("init gateway client", "err", err)
		os.Exit(2)
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()

	journal, err := pendingpg.New(pool)
	if err != nil {
		log.Error("init pending store", "err", err)
		os.Exit(2)
	}
	if err := journal.EnsureSchema(ctx); err != nil {
		log.Error("ensure pending schema", "err", err)
		os.Exit(2)
	}
	leaseStore, err := inflightpg.New(pool)
	if err != nil {
		log.Error("init lease store", "err", err)
		os.Exit(2)
	}
	if err := leaseStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure lease schema", "err", err)
		os.Exit(2)
	}

	unshieldOpts := []unshield.Option{unshield.WithLogger(log), unshield.WithJournal(journal, *chainID)}
	if *blobDriver != "" {
		blobs, err := blobstore.Open(ctx, *blobDriver, *blobBucket, *blobPrefix)
		if err != nil {
			log.Error("init blobstore", "err", err)
			os.Exit(2)
		}
		unshieldOpts = append(unshieldOpts, unshield.WithBlobStore(blobs))
	}

	sh, err := shield.New(actions, shield.WithLogger(log))
	if err != nil {
		log.Error("init shield saga", "err", err)
		os.Exit(2)
	}
	un, err := unshield.New(actions, gw, gw, unshieldOpts...)
	if err != nil {
		log.Error("init unshield saga", "err", err)
		os.Exit(2)
	}
	guard, err := inflight.NewGuard(leaseStore, *owner, inflight.WithTTL(*leaseTTL), inflight.WithLogger(log))
	if err != nil {
		log.Error("init in-flight guard", "err", err)
		os.Exit(2)
	}
	runner, err := conversion.New(conversion.Config{
		ChainID:     *chainID,
		Account:     actions.Address(),
		MaxAttempts: *maxAttempts,
	}, sh, un, guard, journal, log)
	if err != nil {
		log.Error("init conversion runner", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        queue.SplitCommaList(*queueTopics),
		KafkaMaxBytes: *queueMaxBytes,
		MaxLineBytes:  *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	log.Info("conversion worker started",
		"owner", *owner,
		"account", actions.Address(),
		"chainID", *chainID,
		"backend", *backend,
		"leaseTTL", leaseTTL.String(),
		"resumeInterval", resumeInterval.String(),
		"queueDriver", *queueDriver,
	)

	w := &worker{
		runner:         runner,
		producer:       producer,
		resultTopic:    *resultTopic,
		requestTimeout: *requestTimeout,
		ackTimeout:     *ackTimeout,
		log:            log,
	}
	w.run(ctx, consumer, *resumeInterval)
}

type handler interface {
	Handle(ctx context.Context, req conversion.Request) (conversion.Result, error)
	ResumePending(ctx context.Context) (int, error)
}

type worker struct {
	runner         handler
	producer       queue.Producer
	resultTopic    string
	requestTimeout time.Duration
	ackTimeout     time.Duration
	log            *slog.Logger
}

func (w *worker) run(ctx context.Context, consumer queue.Consumer, resumeInterval time.Duration) {
	t := time.NewTicker(resumeInterval)
	defer t.Stop()
	msgCh := consumer.Messages()
	errCh := consumer.Errors()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("shutdown", "reason", ctx.Err())
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				w.log.Error("queue consume error", "err", err)
			}
		case <-t.C:
			cctx, cancel := context.WithTimeout(ctx, w.requestTimeout)
			n, err := w.runner.ResumePending(cctx)
			cancel()
			if err != nil {
				w.log.Error("resume pending", "err", err)
			} else if n > 0 {
				w.log.Info("resumed pending unshields", "finalized", n)
			}
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one request and publishes its result. Malformed requests are
// acknowledged and dropped. Every other message is acknowledged after its result is
// published; a runner failure is reported as an error result so the submitter can retry.
func (w *worker) handleMessage(ctx context.Context, msg queue.Message) {
	req, err := conversion.ParseRequest(msg.Value)
	if err != nil {
		w.log.Error("parse conversion request", "topic", msg.Topic, "err", err)
		w.ack(msg)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, w.requestTimeout)
	res, err := w.runner.Handle(cctx, req)
	cancel()
	if err != nil {
		w.log.Error("handle conversion", "id", req.ID, "err", err)
		res = errorResult(req, res, err)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		w.log.Error("encode conversion result", "id", res.ID, "err", err)
		w.ack(msg)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, w.ackTimeout)
	err = w.producer.Publish(pctx, w.resultTopic, []byte(res.ID), payload)
	cancel()
	if err != nil {
		w.log.Error("publish conversion result", "id", res.ID, "err", err)
	}
	w.ack(msg)
}

func errorResult(req conversion.Request, res conversion.Result, err error) conversion.Result {
	res.Version = conversion.ResultVersion
	if res.ID == "" {
		res.ID = req.ID
	}
	if res.Kind == "" {
		res.Kind = req.Kind
	}
	res.Status = conversion.StatusError
	res.Error = err.Error()
	return res
}

func (w *worker) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), w.ackTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		w.log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}
