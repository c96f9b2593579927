package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/safeguard/cmd/mainconfig"
	"github.com/wolfman30/safeguard/internal/archive"
	appconfig "github.com/wolfman30/safeguard/internal/config"
	"github.com/wolfman30/safeguard/internal/incidents"
	"github.com/wolfman30/safeguard/internal/inference"
	"github.com/wolfman30/safeguard/internal/intake"
	"github.com/wolfman30/safeguard/pkg/logging"
)

const memoryQueueBuffer = 256

// resources owns the external clients shared by the stores, the archive,
// the intake queue and the Bedrock engine.
type resources struct {
	cfg    *appconfig.Config
	logger *logging.Logger

	awsCfg aws.Config
	hasAWS bool
	redis  *redis.Client
	db     *sql.DB
}

func newResources(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*resources, error) {
	res := &resources{cfg: cfg, logger: logger}

	if cfg.NeedsAWS() {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		res.awsCfg = awsCfg
		res.hasAWS = true
	}

	switch cfg.StoreBackend {
	case "redis":
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		res.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := res.redis.Ping(pingCtx).Err(); err != nil {
			res.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(5)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		res.db = db
		logger.Info("connected to postgres")
	case "memory", "dynamodb":
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return res, nil
}

func (r *resources) close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

// kv returns the substrate for one namespace. Incidents and settings never
// share a record, so clearing incidents leaves settings alone.
func (r *resources) kv(namespace string) (incidents.KV, error) {
	switch r.cfg.StoreBackend {
	case "redis":
		return incidents.NewRedisKV(r.redis, r.cfg.RedisKey+":"+namespace), nil
	case "postgres":
		return incidents.NewPostgresKV(r.db, namespace), nil
	case "dynamodb":
		return incidents.NewDynamoKV(dynamodb.NewFromConfig(r.awsCfg), r.cfg.DynamoDBTable, namespace), nil
	case "memory":
		return incidents.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", r.cfg.StoreBackend)
}

// archiver is nil unless a bucket is configured.
func (r *resources) archiver() incidents.Archiver {
	cfg := r.cfg
	if cfg.ArchiveBucket == "" || !r.hasAWS {
		return nil
	}
	client := s3.NewFromConfig(r.awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return archive.NewStore(client, cfg.ArchiveBucket, r.logger)
}

// queue is nil when intake is disabled.
func (r *resources) queue() (intake.Queue, error) {
	cfg := r.cfg
	switch cfg.IntakeQueue {
	case "sqs":
		if cfg.IntakeQueueURL == "" {
			return nil, fmt.Errorf("INTAKE_QUEUE=sqs requires INTAKE_QUEUE_URL")
		}
		return intake.NewSQSQueue(sqs.NewFromConfig(r.awsCfg), cfg.IntakeQueueURL), nil
	case "memory":
		return intake.NewMemoryQueue(memoryQueueBuffer), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown INTAKE_QUEUE %q", cfg.IntakeQueue)
}

// buildCapability resolves the configured engine. Every failure degrades
// to Unavailable so the service still starts and answers safe verdicts.
func buildCapability(ctx context.Context, cfg *appconfig.Config, r *resources, logger *logging.Logger) inference.Capability {
	primary, err := r.engine(ctx, cfg.InferenceProvider)
	if err != nil {
		logger.Warn("primary inference engine unavailable", "provider", cfg.InferenceProvider, "error", err)
	}
	var fallback inference.Engine
	if cfg.FallbackProvider != "" && cfg.FallbackProvider != cfg.InferenceProvider {
		fallback, err = r.engine(ctx, cfg.FallbackProvider)
		if err != nil {
			logger.Warn("fallback inference engine unavailable", "provider", cfg.FallbackProvider, "error", err)
		}
	}

	switch {
	case primary != nil && fallback != nil:
		return inference.Available(inference.NewFallbackEngine(primary, fallback, logger))
	case primary != nil:
		return inference.Available(primary)
	case fallback != nil:
		return inference.Available(fallback)
	}
	if cfg.InferenceProvider == "none" || cfg.InferenceProvider == "" {
		return inference.Unavailable("no inference provider configured")
	}
	return inference.Unavailable(fmt.Sprintf("inference provider %q could not be initialised", cfg.InferenceProvider))
}

func (r *resources) engine(ctx context.Context, provider string) (inference.Engine, error) {
	switch provider {
	case "bedrock":
		if !r.hasAWS {
			return nil, fmt.Errorf("aws config not loaded")
		}
		if r.cfg.BedrockModelID == "" {
			return nil, fmt.Errorf("BEDROCK_MODEL_ID is required")
		}
		return inference.NewBedrockEngine(bedrockruntime.NewFromConfig(r.awsCfg), r.cfg.BedrockModelID), nil
	case "gemini":
		engine, err := inference.NewGeminiEngine(ctx, r.cfg.GeminiAPIKey, r.cfg.GeminiModelID)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", provider)
}
