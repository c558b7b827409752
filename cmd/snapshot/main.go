package main

import (
	"context"
	"log"
	"os"
	"time"

	"talkrec-backend/cmd"
	"talkrec-backend/internal/core"
	"talkrec-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

// The snapshot builder reads a talk metadata file, embeds every entry, and
// uploads the metadata/vector pair the worker loads at startup.
type SnapshotConfig struct {
	DatasetPath string `env:"DATASET_PATH,notEmpty,required"`

	// Snapshot location, same selection rules as the worker.
	SnapshotDir       string `env:"SNAPSHOT_DIR"`
	SnapshotBucket    string `env:"SNAPSHOT_BUCKET" envDefault:"snapshots"`
	SnapshotPrefix    string `env:"SNAPSHOT_PREFIX" envDefault:""`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	Encoder        string        `env:"ENCODER" envDefault:"remote"`
	EncoderURL     string        `env:"ENCODER_URL"`
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL"`
	EmbeddingModel string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim   int           `env:"EMBEDDING_DIM" envDefault:"0"`
	EncodeTimeout  time.Duration `env:"ENCODE_TIMEOUT" envDefault:"30s"`
}

func createObjectStore(cfg SnapshotConfig) (storage.ObjectStore, error) {
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

func createEncoder(cfg SnapshotConfig) core.Encoder {
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

func encodeEntries(cfg SnapshotConfig, encoder core.Encoder, entries []core.IndexEntry) ([][]float32, error) {
	vectors := make([][]float32, 0, len(entries))
	for i, entry := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.EncodeTimeout)
		vec, err := encoder.Encode(ctx, entry.EmbeddingText())
		cancel()
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)

		if (i+1)%100 == 0 {
			log.Printf("encoded %d/%d entries", i+1, len(entries))
		}
	}
	return vectors, nil
}

func main() {
	log.Println("Building embedding snapshot...")

	cmd.LoadEnvFile()

	var cfg SnapshotConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	raw, err := os.ReadFile(cfg.DatasetPath)
	if err != nil {
		log.Fatalf("Failed to read dataset %s: %v", cfg.DatasetPath, err)
	}

	entries, err := core.DecodeMetadata(raw)
	if err != nil {
		log.Fatalf("Failed to parse dataset %s: %v", cfg.DatasetPath, err)
	}
	if len(entries) == 0 {
		log.Fatalf("Dataset %s has no entries", cfg.DatasetPath)
	}
	log.Printf("loaded %d entries from %s", len(entries), cfg.DatasetPath)

	vectors, err := encodeEntries(cfg, createEncoder(cfg), entries)
	if err != nil {
		log.Fatalf("Failed to encode entries: %v", err)
	}

	// Validates that every vector has the same dimension before upload, so a
	// broken snapshot fails here instead of at worker startup.
	index, err := core.NewEmbeddingIndex(entries, vectors)
	if err != nil {
		log.Fatalf("Inconsistent snapshot: %v", err)
	}

	encoded, err := core.EncodeVectors(vectors)
	if err != nil {
		log.Fatalf("Failed to encode vector file: %v", err)
	}

	store, err := createObjectStore(cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	ctx := context.Background()
	if err := store.CreateBucket(ctx, cfg.SnapshotBucket); err != nil {
		log.Fatalf("Failed to create bucket %s: %v", cfg.SnapshotBucket, err)
	}
	if err := storage.PutObjectBytes(ctx, store, cfg.SnapshotBucket, cfg.SnapshotPrefix+core.SnapshotMetadataKey, raw); err != nil {
		log.Fatalf("Failed to upload snapshot metadata: %v", err)
	}
	if err := storage.PutObjectBytes(ctx, store, cfg.SnapshotBucket, cfg.SnapshotPrefix+core.SnapshotVectorsKey, encoded); err != nil {
		log.Fatalf("Failed to upload snapshot vectors: %v", err)
	}

	log.Printf("Snapshot written to %s/%s: %d entries, dim %d", cfg.SnapshotBucket, cfg.SnapshotPrefix, index.Len(), index.Dim())
}
