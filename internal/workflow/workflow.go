// Package workflow moves carousel requests through their status machine:
// Requested -> Generating -> Complete | Failed.
package workflow

import (
	"context"
	"fmt"
	"time"

	"carousel-engine/internal/db"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
)

// failWriteTimeout bounds the final Failed write once the run is over.
const failWriteTimeout = 10 * time.Second

var transitions = map[models.RequestStatus][]models.RequestStatus{
	models.StatusRequested:  {models.StatusGenerating},
	// Generating -> Generating re-triggers a run that crashed or timed out
	// before it could record an outcome.
	models.StatusGenerating: {models.StatusGenerating, models.StatusComplete, models.StatusFailed},
	// a finished request may be re-triggered as a new run
	models.StatusComplete: {models.StatusGenerating},
	models.StatusFailed:   {models.StatusGenerating},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to models.RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Reconciler struct {
	store db.RequestStore
	retry retry.Config
}

func NewReconciler(store db.RequestStore, rc retry.Config) *Reconciler {
	return &Reconciler{store: store, retry: rc}
}

// Load reads a request record.
func (r *Reconciler) Load(ctx context.Context, id string) (models.CarouselRequest, error) {
	var rec *db.CarouselRequest
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		var err error
		rec, err = r.store.GetRequest(ctx, id)
		return err
	})
	if err != nil {
		return models.CarouselRequest{}, err
	}
	return toModel(rec), nil
}

// Pending lists requests waiting for a first run.
func (r *Reconciler) Pending(ctx context.Context, format string, limit int) ([]models.CarouselRequest, error) {
	recs, err := r.store.ListPending(ctx, format, []string{string(models.StatusRequested)}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.CarouselRequest, 0, len(recs))
	for i := range recs {
		out = append(out, toModel(&recs[i]))
	}
	return out, nil
}

// Run tracks the status of one request for the duration of one run.
type Run struct {
	r       *Reconciler
	req     models.CarouselRequest
	current models.RequestStatus
}

// Begin writes Generating. It must succeed before any paid call is made.
func (r *Reconciler) Begin(ctx context.Context, req models.CarouselRequest) (*Run, error) {
	run := &Run{r: r, req: req, current: req.Status}
	if err := run.move(ctx, models.StatusGenerating, db.StatusUpdate{Status: string(models.StatusGenerating)}); err != nil {
		return nil, err
	}
	log.Info().Str("request_id", req.ID).Str("from", string(req.Status)).Msg("Carousel generation started")
	return run, nil
}

func (run *Run) Status() models.RequestStatus { return run.current }

// Complete writes Complete with the published asset address.
func (run *Run) Complete(ctx context.Context, assetURL string) error {
	err := run.move(ctx, models.StatusComplete, db.StatusUpdate{
		Status:   string(models.StatusComplete),
		AssetURL: assetURL,
	})
	if err != nil {
		return err
	}
	log.Info().Str("request_id", run.req.ID).Str("asset_url", assetURL).Msg("Carousel complete")
	return nil
}

// Fail converts cause into a Failed record with a readable reason. The write
// is attempted once on a context detached from the run's cancellation; if it
// fails the record stays in Generating and the error is only logged.
// It returns the reason that was written.
func (run *Run) Fail(ctx context.Context, cause error) string {
	reason := errs.Reason(cause)
	if !CanTransition(run.current, models.StatusFailed) {
		log.Warn().Str("request_id", run.req.ID).Str("status", string(run.current)).Msg("Not marking terminal request as failed")
		return reason
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	err := run.r.store.UpdateRequestStatus(wctx, run.req.ID, db.StatusUpdate{
		Status: string(models.StatusFailed),
		Reason: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("request_id", run.req.ID).Str("reason", reason).Msg("Failed to record failure")
		return reason
	}
	run.current = models.StatusFailed
	log.Warn().Str("request_id", run.req.ID).Str("reason", reason).Msg("Carousel failed")
	return reason
}

func (run *Run) move(ctx context.Context, to models.RequestStatus, update db.StatusUpdate) error {
	if !CanTransition(run.current, to) {
		return errs.E(errs.KindInputValidation, "request "+run.req.ID,
			fmt.Errorf("%s -> %s: %w", run.current, to, errs.ErrInvalidTransition))
	}
	err := retry.Do(ctx, run.r.retry, func(ctx context.Context) error {
		return run.r.store.UpdateRequestStatus(ctx, run.req.ID, update)
	})
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", to, run.req.ID, err)
	}
	run.current = to
	return nil
}

func toModel(rec *db.CarouselRequest) models.CarouselRequest {
	return models.CarouselRequest{
		ID:         rec.ID,
		Title:      rec.Title,
		Content:    rec.Content,
		ProjectKey: rec.ProjectKey,
		Status:     models.RequestStatus(rec.Status),
		Format:     rec.Format,
		Reason:     rec.Reason,
		AssetURL:   rec.AssetURL,
	}
}
