package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/repository"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/pkg/util"
)

const maxStatusRetries = 3

// SubmitRequest is a moderator annotation before classification
type SubmitRequest struct {
	Author           string     `json:"author" validate:"required,max=128"`
	Role             model.Role `json:"role" validate:"required,moderatorrole"`
	Message          string     `json:"message" validate:"required,max=4096"`
	LinkedStateIndex int        `json:"linkedStateIndex" validate:"min=0"`
}

// ImportResult counts the outcome of an import
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Options configures an Ingest
type Options struct {
	Repository repository.FeedbackRepository
	Classifier *Classifier
	CacheSize  int
	Logger     *slog.Logger
	Metrics    metrics.Collector
	Now        func() time.Time
	NewID      func() string
}

// Ingest validates, classifies and persists feedback
type Ingest struct {
	repo       repository.FeedbackRepository
	classifier *Classifier
	cache      *writeCache
	logger     *slog.Logger
	metrics    metrics.Collector
	now        func() time.Time
	newID      func() string
}

// New creates an ingest
func New(opts Options) *Ingest {
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = util.GenerateFeedbackID
	}

	return &Ingest{
		repo:       opts.Repository,
		classifier: opts.Classifier,
		cache:      newWriteCache(opts.CacheSize),
		logger:     logger.OrDiscard(opts.Logger).With("component", "feedback"),
		metrics:    metrics.OrNop(opts.Metrics),
		now:        opts.Now,
		newID:      opts.NewID,
	}
}

// Submit classifies and stores a new feedback message. A store failure is
// returned to the caller wrapped in ErrStoreUnavailable.
func (i *Ingest) Submit(ctx context.Context, req SubmitRequest) (*model.FeedbackMessage, error) {
	req.Author = strings.TrimSpace(req.Author)
	req.Message = strings.TrimSpace(req.Message)

	if !req.Role.IsModeratorClass() {
		return nil, fmt.Errorf("%w: %q", ErrNotModerator, req.Role)
	}
	if err := util.Validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, util.FormatValidationError(err))
	}

	priority, tags := i.classifier.Classify(req.Message)
	msg := &model.FeedbackMessage{
		ID:               i.newID(),
		Author:           req.Author,
		Role:             req.Role,
		Timestamp:        i.now().UTC(),
		Message:          req.Message,
		LinkedStateIndex: req.LinkedStateIndex,
		Priority:         priority,
		Status:           model.FeedbackPending,
		Tags:             tags,
	}

	if err := i.repo.Create(ctx, msg); err != nil {
		return nil, i.storeError("create", err)
	}

	i.cache.put(msg)
	i.metrics.FeedbackSubmitted(string(priority))
	i.logger.Info("feedback submitted",
		"id", msg.ID, "author", msg.Author, "priority", priority, "tags", tags, "index", msg.LinkedStateIndex)
	return msg, nil
}

// Get returns a message by id. Records written by this ingest are served
// from the local cache when the store cannot see them yet.
func (i *Ingest) Get(ctx context.Context, id string) (*model.FeedbackMessage, error) {
	msg, err := i.repo.GetByID(ctx, id)
	if err == nil {
		return msg, nil
	}
	if cached, ok := i.cache.get(id); ok {
		i.logger.Debug("feedback served from cache", "id", id, "error", err)
		return cached, nil
	}
	return nil, i.storeError("get", err)
}

// List returns messages matching filter
func (i *Ingest) List(ctx context.Context, filter model.FeedbackFilter) ([]*model.FeedbackMessage, error) {
	msgs, err := i.repo.List(ctx, filter)
	if err != nil {
		return nil, i.storeError("list", err)
	}
	return msgs, nil
}

// UpdateStatus moves a message forward. Backward, repeated or unknown
// transitions fail with ErrInvalidTransition and leave the record unchanged.
func (i *Ingest) UpdateStatus(ctx context.Context, id string, next model.FeedbackStatus) (*model.FeedbackMessage, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		current, err := i.repo.GetByID(ctx, id)
		if err != nil {
			return nil, i.storeError("get", err)
		}
		if !current.Status.CanTransition(next) {
			i.logger.Warn("rejected feedback transition", "id", id, "from", current.Status, "to", next)
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		updated, err := i.repo.UpdateStatus(ctx, id, current.Status, next)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return nil, i.storeError("update_status", err)
		}

		i.cache.put(updated)
		i.metrics.FeedbackStatusChanged(string(next))
		i.logger.Info("feedback status changed", "id", id, "from", current.Status, "to", next)
		return updated, nil
	}
	return nil, fmt.Errorf("%w: concurrent updates on %s", ErrInvalidTransition, id)
}

// Export returns every stored message as a flat array
func (i *Ingest) Export(ctx context.Context) ([]model.FeedbackMessage, error) {
	msgs, err := i.repo.List(ctx, model.FeedbackFilter{})
	if err != nil {
		return nil, i.storeError("export", err)
	}
	out := make([]model.FeedbackMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	return out, nil
}

// Import stores records verbatim. Every record is checked before anything
// is written; records whose id already exists are skipped.
func (i *Ingest) Import(ctx context.Context, records []model.FeedbackMessage) (ImportResult, error) {
	for idx := range records {
		if err := checkRecord(&records[idx]); err != nil {
			return ImportResult{}, fmt.Errorf("%w: record %d: %v", ErrInvalidRequest, idx, err)
		}
	}

	var res ImportResult
	for idx := range records {
		rec := records[idx].Clone()
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		err := i.repo.Create(ctx, rec)
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			res.Skipped++
		case err != nil:
			return res, i.storeError("import", err)
		default:
			res.Imported++
		}
	}

	i.logger.Info("feedback imported", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

// Ping checks the backing store
func (i *Ingest) Ping(ctx context.Context) error {
	if err := i.repo.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func checkRecord(rec *model.FeedbackMessage) error {
	switch {
	case rec.ID == "":
		return errors.New("missing id")
	case rec.Author == "":
		return errors.New("missing author")
	case len(rec.Author) > 128:
		return errors.New("author longer than 128 bytes")
	case !rec.Role.IsModeratorClass():
		return fmt.Errorf("role %q may not author feedback", rec.Role)
	case !rec.Priority.Valid():
		return fmt.Errorf("unknown priority %q", rec.Priority)
	case !rec.Status.Valid():
		return fmt.Errorf("unknown status %q", rec.Status)
	case rec.LinkedStateIndex < 0:
		return errors.New("negative linkedStateIndex")
	}
	return nil
}

func (i *Ingest) storeError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	i.metrics.FeedbackStoreError(op)
	i.logger.Error("feedback store failure", "operation", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
