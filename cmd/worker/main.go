package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkrec-backend/cmd"
	"talkrec-backend/internal/core"
	"talkrec-backend/internal/database"
	"talkrec-backend/internal/messaging"
	"talkrec-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string        `env:"RABBITMQ_URL,notEmpty,required"`
	RabbitMQHeartbeat time.Duration `env:"RABBITMQ_HEARTBEAT" envDefault:"30s"`
	RabbitMQDialLimit time.Duration `env:"RABBITMQ_DIAL_TIMEOUT" envDefault:"60s"`

	// Snapshot location. SnapshotDir switches to a local directory store,
	// otherwise the snapshot is pulled from S3/MinIO.
	SnapshotDir       string `env:"SNAPSHOT_DIR"`
	SnapshotBucket    string `env:"SNAPSHOT_BUCKET" envDefault:"snapshots"`
	SnapshotPrefix    string `env:"SNAPSHOT_PREFIX" envDefault:""`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	// Encoder selection: "remote" points at a self-hosted
	// sentence-transformers service, "openai" at an OpenAI-compatible API.
	Encoder        string `env:"ENCODER" envDefault:"remote"`
	EncoderURL     string `env:"ENCODER_URL"`
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim   int    `env:"EMBEDDING_DIM" envDefault:"0"`
}

func createObjectStore(cfg WorkerConfig) (storage.ObjectStore, error) {
	if cfg.SnapshotDir != "" {
		return storage.NewLocalObjectStore(cfg.SnapshotDir)
	}
	return storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

func createEncoder(cfg WorkerConfig) core.Encoder {
	switch cfg.Encoder {
	case "openai":
		return core.NewOpenAIEncoder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	default:
		if cfg.EncoderURL == "" {
			log.Fatalf("ENCODER_URL is required for the remote encoder")
		}
		return core.NewRemoteEncoder(cfg.EncoderURL)
	}
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := createObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	index, err := core.LoadEmbeddingIndex(context.Background(), store, cfg.SnapshotBucket, cfg.SnapshotPrefix)
	if err != nil {
		log.Fatalf("Failed to load embedding index: %v", err)
	}

	ranker := core.NewRanker(index, createEncoder(cfg))

	receiver, err := messaging.NewRabbitMQReceiver(messaging.BrokerConfig{
		URL:         cfg.RabbitMQURL,
		Heartbeat:   cfg.RabbitMQHeartbeat,
		DialTimeout: cfg.RabbitMQDialLimit,
	})
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	processor := core.NewTaskProcessor(db, receiver, ranker)

	go processor.Start()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping worker...")
	processor.Stop()
	log.Println("Worker process stopped.")
}
