package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"talkrec-backend/cmd"
	"talkrec-backend/internal/api"
	"talkrec-backend/internal/auth"
	"talkrec-backend/internal/core"
	"talkrec-backend/internal/database"
	"talkrec-backend/internal/messaging"
	"talkrec-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

// cmd/local runs the API and the worker in one process on sqlite with an
// in-memory queue. Nothing here is durable; it exists for development and
// demos.
type Config struct {
	Root           string `env:"ROOT" envDefault:"./talkrec"`
	Port           int    `env:"PORT" envDefault:"8001"`
	JWTSecret      string `env:"JWT_SECRET" envDefault:"local-dev-secret"`
	SnapshotDir    string `env:"SNAPSHOT_DIR" envDefault:"./data"`
	SnapshotBucket string `env:"SNAPSHOT_BUCKET" envDefault:"snapshots"`
	SnapshotPrefix string `env:"SNAPSHOT_PREFIX" envDefault:""`
	EncoderURL     string `env:"ENCODER_URL,notEmpty,required"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "talkrec.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDatabase(path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	return db
}

// createQueue republishes tasks that were still PENDING when the previous
// process exited, since the in-memory queue loses them on shutdown.
func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	var tasks []database.MLTask
	if err := db.Where("status = ?", database.TaskPending).Find(&tasks).Error; err != nil {
		log.Fatalf("Failed to fetch tasks from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, task := range tasks {
		if err := queue.PublishMLTask(context.Background(), messaging.MLTaskPayload{
			TaskId:    task.Id,
			UserId:    task.UserId,
			ModelName: task.ModelName,
			InputData: task.InputData,
		}); err != nil {
			log.Fatalf("Failed to republish task %d: %v", task.Id, err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, queue messaging.Publisher, tokens *auth.TokenIssuer, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue, tokens)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db := createDatabase(cfg.Root)
	queue := createQueue(db)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, 0)

	store, err := storage.NewLocalObjectStore(cfg.SnapshotDir)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	index, err := core.LoadEmbeddingIndex(context.Background(), store, cfg.SnapshotBucket, cfg.SnapshotPrefix)
	if err != nil {
		log.Fatalf("Failed to load embedding index: %v", err)
	}

	ranker := core.NewRanker(index, core.NewRemoteEncoder(cfg.EncoderURL))
	processor := core.NewTaskProcessor(db, queue, ranker)
	go processor.Start()

	server := createServer(db, queue, tokens, cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
		processor.Stop()
	}()

	log.Printf("Local server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v", cfg.Port, err)
	}
}
