// Package engine runs the two pipeline stages: document ingestion into a
// client context, and carousel generation for a request record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"carousel-engine/internal/carousel"
	"carousel-engine/internal/config"
	"carousel-engine/internal/db"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/helper"
	"carousel-engine/internal/imagegen"
	"carousel-engine/internal/llmservice"
	"carousel-engine/internal/models"
	"carousel-engine/internal/parser"
	"carousel-engine/internal/profile"
	"carousel-engine/internal/publisher"
	"carousel-engine/internal/retry"
	"carousel-engine/internal/storage"
	"carousel-engine/internal/synth"
	"carousel-engine/internal/workflow"

	"github.com/rs/zerolog/log"
)

// Services are the external systems the engine talks to.
type Services struct {
	Text     llmservice.TextGenerator
	Images   imagegen.Backend // nil disables background images
	Projects db.ProjectStore
	Requests db.RequestStore
	Objects  storage.ObjectStore
}

type Engine struct {
	extractor *parser.Extractor
	synth     *synth.Synthesizer
	profiles  *profile.Adapter
	slides    *carousel.Generator
	images    *imagegen.Generator
	publisher *publisher.Publisher
	workflow  *workflow.Reconciler
	maxCost   float64
	format    string
}

// New wires every component from cfg. cfg must already have defaults applied.
func New(cfg *config.Config, svc Services) *Engine {
	pricing := governor.PricingFromConfig(cfg.Governor)
	rc := retry.FromConfig(cfg.Retry)

	e := &Engine{
		extractor: parser.NewExtractor(governor.PolicyFromConfig(cfg.Ingest)),
		synth:     synth.NewSynthesizer(svc.Text, cfg.Ingest, pricing, rc),
		profiles:  profile.NewAdapter(svc.Projects, rc),
		slides:    carousel.NewGenerator(svc.Text, cfg.Carousel, pricing, rc),
		publisher: publisher.NewPublisher(svc.Objects, rc, cfg.Carousel.UploadConcurrency),
		workflow:  workflow.NewReconciler(svc.Requests, rc),
		maxCost:   cfg.Governor.MaxCostPerRun,
		format:    cfg.Carousel.FormatFlag,
	}
	if svc.Images != nil {
		e.images = imagegen.NewGenerator(svc.Images, cfg.Image, pricing, rc)
	}
	return e
}

// IngestResult summarizes one ingestion.
type IngestResult struct {
	ProjectKey           string   `json:"project_key"`
	ContextSummaryLength int      `json:"context_summary_length"`
	Created              bool     `json:"created"`
	Documents            int      `json:"documents"`
	Warnings             []string `json:"warnings,omitempty"`
	Cost                 float64  `json:"cost"`
}

// IngestDocuments extracts every document, synthesizes one system message
// and upserts it as the context for projectKey. A document that cannot be
// extracted becomes a warning; the run fails only if none can.
func (e *Engine) IngestDocuments(ctx context.Context, projectKey string, docs []models.SourceDocument) (IngestResult, error) {
	result := IngestResult{ProjectKey: strings.TrimSpace(projectKey)}
	if result.ProjectKey == "" {
		return result, errs.E(errs.KindInputValidation, "ingest", fmt.Errorf("empty project key: %w", errs.ErrInvalidInput))
	}
	budget := governor.NewBudget(e.maxCost)
	started := time.Now()

	batch := e.extractor.ExtractAll(docs)
	var docIDs []string
	for _, o := range batch.Outcomes {
		if o.OK() {
			docIDs = append(docIDs, o.DocumentID)
			continue
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("document %s skipped: %s", o.DocumentID, errs.Reason(o.Err)))
	}
	result.Documents = len(docIDs)
	if len(batch.Texts) == 0 {
		return result, errs.E(errs.KindInputValidation, "ingest",
			fmt.Errorf("none of %d documents could be extracted: %w", len(docs), errs.ErrInvalidInput))
	}

	synthesized, err := e.synth.Synthesize(ctx, budget, batch.Texts)
	result.Cost = budget.Spent()
	if err != nil {
		return result, fmt.Errorf("ingest %q: %w", result.ProjectKey, err)
	}
	for _, label := range synthesized.Truncated {
		result.Warnings = append(result.Warnings, fmt.Sprintf("document %s truncated before synthesis", label))
	}
	for _, seg := range synthesized.Missing {
		result.Warnings = append(result.Warnings, fmt.Sprintf("audience segment %q not covered", seg))
	}

	created, err := e.profiles.UpsertContext(ctx, result.ProjectKey, models.ClientContext{
		ProjectKey:        result.ProjectKey,
		SystemMessage:     synthesized.SystemMessage,
		SourceDocumentIDs: docIDs,
	})
	if err != nil {
		return result, err
	}
	result.Created = created
	result.ContextSummaryLength = utf8.RuneCountInString(synthesized.SystemMessage)

	log.Info().
		Str("project_key", result.ProjectKey).
		Int("documents", result.Documents).
		Int("warnings", len(result.Warnings)).
		Float64("cost", result.Cost).
		Dur("took", time.Since(started)).
		Msg("Ingested documents")
	return result, nil
}

// CarouselResult summarizes one generation run.
type CarouselResult struct {
	RequestID     string               `json:"request_id"`
	SlideCount    int                  `json:"slide_count"`
	AssetRefs     []models.AssetRef    `json:"asset_refs"`
	FinalStatus   models.RequestStatus `json:"final_status"`
	Cost          float64              `json:"cost"`
	Reason        string               `json:"reason,omitempty"`
	ImageFailures []string             `json:"image_failures,omitempty"`
}

// GenerateCarousel runs stage B for one request. A request that is already
// Complete is reported as is, without any paid call.
func (e *Engine) GenerateCarousel(ctx context.Context, requestID string) (CarouselResult, error) {
	return e.generate(ctx, requestID, false)
}

// RegenerateCarousel runs stage B even if the request is already Complete.
// The output overwrites the previous run's objects.
func (e *Engine) RegenerateCarousel(ctx context.Context, requestID string) (CarouselResult, error) {
	return e.generate(ctx, requestID, true)
}

func (e *Engine) generate(ctx context.Context, requestID string, force bool) (CarouselResult, error) {
	result := CarouselResult{RequestID: requestID}

	req, err := e.workflow.Load(ctx, requestID)
	if err != nil {
		return result, err
	}
	result.FinalStatus = req.Status

	if req.Status == models.StatusComplete && !force {
		log.Info().Str("request_id", requestID).Msg("Request already complete, skipping")
		if req.AssetURL != "" {
			result.AssetRefs = []models.AssetRef{{Name: publisher.ManifestName, URL: req.AssetURL}}
		}
		result.Reason = "already processed"
		return result, nil
	}

	runID, err := helper.GenerateUUID()
	if err != nil {
		return result, err
	}
	genRun := models.GenerationRun{ID: runID, RequestID: requestID, StartedAt: time.Now().UTC()}
	budget := governor.NewBudget(e.maxCost)

	run, err := e.workflow.Begin(ctx, req)
	if err != nil {
		return result, err
	}

	refs, set, imageFailures, err := e.produce(ctx, budget, req)
	result.Cost = budget.Spent()
	result.SlideCount = set.Len()
	result.ImageFailures = imageFailures
	if err == nil {
		err = run.Complete(ctx, refs.ManifestURL)
	}
	if err != nil {
		result.Reason = run.Fail(ctx, err)
		result.FinalStatus = run.Status()
		var pe *publisher.PublishError
		if errors.As(err, &pe) {
			result.AssetRefs = pe.Succeeded
		}
		logRun(genRun, result)
		return result, err
	}

	result.AssetRefs = refs.Refs
	result.FinalStatus = run.Status()
	logRun(genRun, result)
	return result, nil
}

// produce makes every paid call and publishes the output.
func (e *Engine) produce(ctx context.Context, budget *governor.Budget, req models.CarouselRequest) (publisher.Result, models.SlideSet, []string, error) {
	var systemMessage string
	clientCtx, err := e.profiles.GetContext(ctx, req.ProjectKey)
	switch {
	case err == nil:
		systemMessage = clientCtx.SystemMessage
	case errs.KindOf(err) == errs.KindNotFound:
		log.Warn().Str("project_key", req.ProjectKey).Msg("No client context, generating with default voice")
	default:
		return publisher.Result{}, models.SlideSet{}, nil, fmt.Errorf("load client context: %w", err)
	}

	set, err := e.slides.Generate(ctx, budget, carousel.Input{
		SystemMessage: systemMessage,
		Topic:         req.Title,
		Seed:          req.Content,
	})
	if err != nil {
		return publisher.Result{}, set, nil, err
	}

	var (
		assets   map[string]models.ImageAsset
		failures []string
	)
	if e.images != nil {
		images, err := e.images.GenerateForSlides(ctx, budget, req.Title, &set)
		if err != nil {
			return publisher.Result{}, set, nil, err
		}
		assets = images.Assets
		for theme := range images.Failures {
			failures = append(failures, theme)
		}
	}

	published, err := e.publisher.Publish(ctx, req.ProjectKey, req.ID, req.Title, set, assets)
	if err != nil {
		return published, set, failures, err
	}
	if systemMessage != "" {
		e.profiles.MarkUsed(ctx, req.ProjectKey, req.ID)
	}
	return published, set, failures, nil
}

// GeneratePending runs every request still in Requested with the configured
// format flag. One request failing does not stop the others.
func (e *Engine) GeneratePending(ctx context.Context, limit int) ([]CarouselResult, error) {
	pending, err := e.workflow.Pending(ctx, e.format, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	log.Info().Int("pending", len(pending)).Str("format", e.format).Msg("Processing pending requests")

	results := make([]CarouselResult, 0, len(pending))
	for _, req := range pending {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := e.GenerateCarousel(ctx, req.ID)
		if err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Msg("Carousel generation failed")
			if res.Reason == "" {
				res.Reason = errs.Reason(err)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func logRun(run models.GenerationRun, result CarouselResult) {
	run.EndedAt = time.Now().UTC()
	run.Cost = result.Cost
	run.Outcome = result.FinalStatus
	log.Info().
		Str("run_id", run.ID).
		Str("request_id", run.RequestID).
		Str("outcome", string(run.Outcome)).
		Int("slides", result.SlideCount).
		Float64("cost", run.Cost).
		Dur("took", run.EndedAt.Sub(run.StartedAt)).
		Msg("Generation run finished")
}
