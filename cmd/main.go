package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"carousel-engine/internal/config"
	"carousel-engine/internal/db"
	"carousel-engine/internal/engine"
	"carousel-engine/internal/helper"
	"carousel-engine/internal/imagegen"
	"carousel-engine/internal/llmservice"
	"carousel-engine/internal/models"
	"carousel-engine/internal/storage"
)

const configFilePath = "./configs/config.yaml"

// fileList collects repeated -file flags.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	var files fileList
	configPath := flag.String("config", configFilePath, "Path to the config file")
	projectKey := flag.String("project", "", "Project key to ingest documents for")
	flag.Var(&files, "file", "Path to a client document (repeatable)")
	requestID := flag.String("request", "", "Carousel request id to generate")
	pending := flag.Int("pending", 0, "Generate up to N pending carousel requests")
	force := flag.Bool("force", false, "Regenerate even if the request is already complete")
	dryRun := flag.Bool("dry-run", false, "Keep records and assets in memory, do not touch the database or bucket")
	title := flag.String("title", "", "Carousel title for a dry-run request")
	content := flag.String("content", "", "Carousel seed content for a dry-run request")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *projectKey == "" && *requestID == "" && *pending == 0 {
		log.Fatal().Msg("Please provide -project with -file to ingest documents, -request to generate a carousel, or -pending N")
	}
	if len(files) > 0 && *projectKey == "" {
		log.Fatal().Msg("-file needs -project")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunTimeout)
	defer cancel()

	svc, closeFn := buildServices(ctx, cfg, *dryRun)
	defer closeFn()

	if *dryRun && *requestID != "" {
		seedDryRunRequest(svc.Requests, *requestID, *projectKey, *title, *content, cfg.Carousel.FormatFlag)
	}

	eng := engine.New(cfg, svc)

	if len(files) > 0 {
		ingestFiles(ctx, eng, *projectKey, files)
	}
	if *requestID != "" {
		generateCarousel(ctx, eng, *requestID, *force)
	}
	if *pending > 0 {
		results, err := eng.GeneratePending(ctx, *pending)
		if err != nil {
			log.Error().Err(err).Msg("Error processing pending requests")
		}
		helper.PrettyPrint(results)
	}
}

func buildServices(ctx context.Context, cfg *config.Config, dryRun bool) (engine.Services, func()) {
	text, err := llmservice.NewClient(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing text generation client")
	}

	var images imagegen.Backend
	if cfg.Image.Key != "" {
		images, err = imagegen.NewBackend(ctx, cfg.Image)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing image backend")
		}
	} else {
		log.Warn().Msg("No image key configured, slides will have no background")
	}

	if dryRun {
		records := db.NewMemoryStore()
		return engine.Services{
			Text:     text,
			Images:   images,
			Projects: records,
			Requests: records,
			Objects:  storage.NewMemoryStore("memory://" + cfg.Storage.Bucket),
		}, func() {}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
	if err := db.InitDB(ctx, dbInstance); err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
	}
	store := db.NewStore(dbInstance)

	objects, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing object storage")
	}

	return engine.Services{
		Text:     text,
		Images:   images,
		Projects: store,
		Requests: store,
		Objects:  objects,
	}, func() { dbInstance.Close() }
}

func ingestFiles(ctx context.Context, eng *engine.Engine, projectKey string, paths []string) {
	docs := make([]models.SourceDocument, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Fatal().Err(err).Str("file", p).Msg("Error reading document")
		}
		docs = append(docs, models.SourceDocument{
			ID:     filepath.Base(p),
			Format: strings.TrimPrefix(filepath.Ext(p), "."),
			Size:   int64(len(data)),
			Data:   data,
		})
	}

	result, err := eng.IngestDocuments(ctx, projectKey, docs)
	if err != nil {
		log.Error().Err(err).Msg("Error ingesting documents")
	}
	helper.PrettyPrint(result)
}

func generateCarousel(ctx context.Context, eng *engine.Engine, requestID string, force bool) {
	run := eng.GenerateCarousel
	if force {
		run = eng.RegenerateCarousel
	}
	result, err := run(ctx, requestID)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("Error generating carousel")
	}
	helper.PrettyPrint(result)
}

func seedDryRunRequest(store db.RequestStore, id, projectKey, title, content, format string) {
	mem, ok := store.(*db.MemoryStore)
	if !ok {
		return
	}
	if title == "" {
		log.Fatal().Msg("-dry-run with -request needs -title")
	}
	mem.PutRequest(db.CarouselRequest{
		ID:         id,
		Title:      title,
		Content:    content,
		ProjectKey: projectKey,
		Status:     string(models.StatusRequested),
		Format:     format,
	})
	log.Info().Str("request_id", id).Msg("Seeded in-memory request")
}
