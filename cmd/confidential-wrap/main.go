package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/juno-intents/confidential-wrap/internal/blobstore"
	"github.com/juno-intents/confidential-wrap/internal/conversion"
	"github.com/juno-intents/confidential-wrap/internal/fhegateway"
	"github.com/juno-intents/confidential-wrap/internal/inflight"
	"github.com/juno-intents/confidential-wrap/internal/secrets"
	"github.com/juno-intents/confidential-wrap/internal/shield"
	"github.com/juno-intents/confidential-wrap/internal/unshield"
	"github.com/juno-intents/confidential-wrap/internal/wallet"
)

const usage = "usage: confidential-wrap <shield|unshield|finalize> [flags]"

var errConversionFailed = errors.New("conversion failed")

type config struct {
	kind conversion.Kind
	req  conversion.Request

	rpcURL  string
	chainID uint64
	backend string

	secretsDriver string
	keyName       string

	gatewayURL      string
	gatewayTokenEnv string

	blobDriver string
	blobBucket string
	blobPrefix string

	receiptTimeout time.Duration
	pollInterval   time.Duration
	timeout        time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errConversionFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	provider, err := secrets.Open(ctx, cfg.secretsDriver)
	if err != nil {
		return err
	}
	key, err := secrets.LoadPrivateKey(ctx, provider, cfg.keyName)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	actions, closeNode, err := wallet.Dial(ctx, wallet.DialConfig{
		RPCURL:         cfg.rpcURL,
		ChainID:        cfg.chainID,
		Key:            key,
		Backend:        cfg.backend,
		ReceiptTimeout: cfg.receiptTimeout,
		PollInterval:   cfg.pollInterval,
	})
	if err != nil {
		return err
	}
	defer closeNode()

	var (
		sh conversion.Shielder
		un conversion.Unshielder
	)
	if cfg.kind == conversion.KindShield {
		s, err := shield.New(actions, shield.WithLogger(log))
		if err != nil {
			return err
		}
		sh = s
	} else {
		u, err := buildUnshield(ctx, cfg, actions, log)
		if err != nil {
			return err
		}
		un = u
	}
	guard, err := inflight.NewGuard(inflight.NewMemoryStore(nil), "confidential-wrap", inflight.WithLogger(log))
	if err != nil {
		return err
	}
	runner, err := conversion.New(conversion.Config{ChainID: cfg.chainID, Account: actions.Address()}, sh, un, guard, nil, log)
	if err != nil {
		return err
	}

	res, err := runner.Handle(ctx, cfg.req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != conversion.StatusSuccess {
		return fmt.Errorf("%w: %s", errConversionFailed, res.Error)
	}
	return nil
}

func buildUnshield(ctx context.Context, cfg config, actions wallet.Actions, log *slog.Logger) (*unshield.Saga, error) {
	opts := []unshield.Option{unshield.WithLogger(log)}
	if cfg.blobDriver != "" {
		store, err := blobstore.Open(ctx, cfg.blobDriver, cfg.blobBucket, cfg.blobPrefix)
		if err != nil {
			return nil, fmt.Errorf("init blobstore: %w", err)
		}
		opts = append(opts, unshield.WithBlobStore(store))
	}

	token := os.Getenv(cfg.gatewayTokenEnv)
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("missing gateway auth token in env %s", cfg.gatewayTokenEnv)
	}
	gw, err := fhegateway.NewClient(cfg.gatewayURL, token, fhegateway.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	if err != nil {
		return nil, fmt.Errorf("init gateway client: %w", err)
	}
	return unshield.New(actions, gw, gw, opts...)
}

func parseArgs(args []string) (config, error) {
	if len(args) == 0 {
		return config{}, errors.New(usage)
	}
	kind := conversion.Kind(strings.ToLower(strings.TrimSpace(args[0])))
	switch kind {
	case conversion.KindShield, conversion.KindUnshield, conversion.KindFinalize:
	default:
		return config{}, fmt.Errorf("unknown command %q; %s", args[0], usage)
	}

	fs := flag.NewFlagSet("confidential-wrap "+string(kind), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	cfg := config{kind: kind}
	fs.StringVar(&cfg.rpcURL, "rpc-url", "", "EVM JSON-RPC URL (required)")
	fs.Uint64Var(&cfg.chainID, "chain-id", 0, "EVM chain id (required)")
	fs.StringVar(&cfg.backend, "backend", wallet.BackendDirect, "wallet backend: direct|legacy")
	fs.StringVar(&cfg.secretsDriver, "secrets-driver", secrets.DriverEnv, "signing key source: env|aws")
	fs.StringVar(&cfg.keyName, "key", "CONFIDENTIAL_WRAP_PRIVATE_KEY", "env var or secret id (secret-id#field) holding the signing key")
	fs.StringVar(&cfg.gatewayURL, "gateway-url", "", "FHE gateway base URL (required for unshield/finalize)")
	fs.StringVar(&cfg.gatewayTokenEnv, "gateway-token-env", "FHE_GATEWAY_TOKEN", "env var containing the gateway bearer token")
	fs.StringVar(&cfg.blobDriver, "blob-driver", "", "optional artifact store: memory|s3")
	fs.StringVar(&cfg.blobBucket, "blob-bucket", "", "S3 bucket for artifacts")
	fs.StringVar(&cfg.blobPrefix, "blob-prefix", "", "artifact key prefix")
	fs.DurationVar(&cfg.receiptTimeout, "receipt-timeout", wallet.DefaultReceiptTimeout, "per-transaction receipt wait")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", wallet.DefaultPollInterval, "receipt poll interval")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Minute, "overall timeout")

	id := fs.String("id", "", "request id (default: random uuid)")
	token := fs.String("token", "", "ERC20 token address (shield)")
	wrapper := fs.String("wrapper", "", "ERC7984 wrapper address (required)")
	amount := fs.String("amount", "", "amount in base units (shield, unshield)")
	recipient := fs.String("recipient", "", "recipient address (default: signer)")
	handle := fs.String("burnt-handle", "", "burnt amount handle (finalize)")
	unwrapTx := fs.String("unwrap-tx", "", "unwrap transaction hash (finalize, optional)")

	if err := fs.Parse(args[1:]); err != nil {
		return config{}, err
	}
	if cfg.rpcURL == "" || cfg.chainID == 0 {
		return config{}, errors.New("--rpc-url and --chain-id are required")
	}
	if kind != conversion.KindShield && cfg.gatewayURL == "" {
		return config{}, errors.New("--gateway-url is required for unshield and finalize")
	}
	if cfg.receiptTimeout <= 0 || cfg.pollInterval <= 0 || cfg.timeout <= 0 {
		return config{}, errors.New("durations must be > 0")
	}

	req := conversion.Request{ID: strings.TrimSpace(*id), Kind: kind}
	var err error
	if req.Wrapper, err = parseAddress("--wrapper", *wrapper, true); err != nil {
		return config{}, err
	}
	if req.Recipient, err = parseAddress("--recipient", *recipient, false); err != nil {
		return config{}, err
	}
	switch kind {
	case conversion.KindShield:
		if req.Token, err = parseAddress("--token", *token, true); err != nil {
			return config{}, err
		}
		fallthrough
	case conversion.KindUnshield:
		v, ok := new(big.Int).SetString(strings.TrimSpace(*amount), 10)
		if !ok || v.Sign() <= 0 {
			return config{}, errors.New("--amount must be a positive decimal integer")
		}
		req.Amount = v
	case conversion.KindFinalize:
		if req.BurntAmountHandle, err = parseHash("--burnt-handle", *handle, true); err != nil {
			return config{}, err
		}
		if req.UnwrapTxHash, err = parseHash("--unwrap-tx", *unwrapTx, false); err != nil {
			return config{}, err
		}
	}
	cfg.req = req
	return cfg, nil
}

func parseAddress(name, s string, required bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s is required", name)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s must be a valid hex address", name)
	}
	return common.HexToAddress(s), nil
}

func parseHash(name, s string, required bool) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if required {
			return common.Hash{}, fmt.Errorf("%s is required", name)
		}
		return common.Hash{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s must be 0x-prefixed 32-byte hex", name)
	}
	return common.BytesToHash(b), nil
}
