package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Black-prog/CanScan/internal/classifier"
	"github.com/Black-prog/CanScan/internal/imagestore"
	"github.com/Black-prog/CanScan/internal/logging"
	"github.com/Black-prog/CanScan/internal/preprocess"
	"github.com/Black-prog/CanScan/internal/report"
	"github.com/Black-prog/CanScan/internal/repository"
)

const (
	// The record-producing path and the preview-only path front two
	// different model input contracts.
	analysisTargetSize = 150
	previewTargetSize  = 299

	timestampLayout = "02/01/2006 15:04:05"

	recordCacheTTL = 5 * time.Minute
)

// CaseRepository defines the persistence operations needed by the orchestrator.
type CaseRepository interface {
	Create(ctx context.Context, record *repository.CaseRecord) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*repository.CaseRecord, error)
	SearchByPatient(ctx context.Context, ownerID, substring string) ([]*repository.CaseRecord, error)
	GetByID(ctx context.Context, id uint, ownerID string) (*repository.CaseRecord, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
	AggregateDiagnoses(ctx context.Context, ownerID string) ([]repository.DiagnosisCount, error)
}

// ImageStore defines the upload-directory operations needed by the orchestrator.
type ImageStore interface {
	Save(filename string, content []byte) (string, error)
	Path(name string) string
	Exists(name string) bool
}

// Classifier maps a normalized tensor to a diagnosis label plus raw scores.
type Classifier interface {
	Classify(ctx context.Context, t *preprocess.Tensor) (string, []float64, error)
}

// AnalysisUseCase sequences ingestion, preprocessing, inference, persistence
// and report generation. Each analysis runs synchronously end-to-end within
// the request that carries it.
type AnalysisUseCase struct {
	repo       CaseRepository
	cache      Cache
	images     ImageStore
	classifier Classifier
	logger     *zap.Logger

	preprocessFn func(path string, height, width int) (*preprocess.Tensor, error)
	renderFn     func(record *repository.CaseRecord, images report.ImageSource) ([]byte, string, error)

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedCase struct {
	ID          uint      `json:"id"`
	OwnerID     string    `json:"owner_id"`
	PatientName string    `json:"patient_name"`
	AnalyzedAt  string    `json:"analyzed_at"`
	Diagnosis   string    `json:"diagnosis"`
	ImagePath   string    `json:"image_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAnalysisUseCase constructs the orchestrator.
func NewAnalysisUseCase(repo CaseRepository, cache Cache, images ImageStore, cls Classifier, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		images:         images,
		classifier:     cls,
		logger:         logger.Named("analysis_usecase"),
		preprocessFn:   preprocess.Preprocess,
		renderFn:       report.Generate,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// RunAnalysis executes the full pipeline for one uploaded image and returns
// the persisted case record.
//
// Creation is atomic: a failure at any stage leaves no record behind. A file
// already written by ingestion may remain orphaned on a later-stage failure;
// that leak is accepted and not cleaned up.
func (uc *AnalysisUseCase) RunAnalysis(ctx context.Context, ownerID, firstName, lastName, filename string, content []byte) (*repository.CaseRecord, error) {
	opID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.run_analysis", opID)

	patientName := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))

	stored, err := uc.images.Save(filename, content)
	if err != nil {
		opLogger.Warn("ingestion rejected", zap.Error(err), zap.String("filename", filename))
		return nil, logging.NewOperationError("usecase.ingest_image", opID, err)
	}

	tensor, err := uc.preprocessFn(uc.images.Path(stored), analysisTargetSize, analysisTargetSize)
	if err != nil {
		opLogger.Warn("preprocessing failed", zap.Error(err), zap.String("image", stored))
		return nil, logging.NewOperationError("usecase.preprocess_image", opID, err)
	}

	label, scores, err := uc.classifier.Classify(ctx, tensor)
	if err != nil {
		opLogger.Error("inference failed", zap.Error(err), zap.String("image", stored))
		return nil, logging.NewOperationError("usecase.classify_image", opID, err)
	}
	opLogger.Info("classification complete",
		zap.String("diagnosis", label),
		zap.Float64s("scores", scores),
		zap.String("image", stored))

	now := time.Now()
	record := &repository.CaseRecord{
		OwnerID:     ownerID,
		PatientName: patientName,
		AnalyzedAt:  now.Format(timestampLayout),
		Diagnosis:   label,
		ImagePath:   stored,
		CreatedAt:   now.UTC(),
	}
	if err := uc.repo.Create(ctx, record); err != nil {
		opLogger.Error("failed to persist case record", zap.Error(err))
		return nil, logging.NewOperationError("usecase.save_case", opID, err)
	}

	if err := uc.cacheRecord(ctx, opID, record); err != nil {
		// The record is already durable; a cache failure must not fail
		// the analysis.
		opLogger.Warn("failed to cache case record", zap.Error(err))
	}

	return record, nil
}

// RunPreview classifies an upload without persisting a case record. The
// stored preview image gets a unique name so it cannot stomp a patient image.
func (uc *AnalysisUseCase) RunPreview(ctx context.Context, filename string, content []byte) (string, string, error) {
	opID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.run_preview", opID)

	if strings.TrimSpace(filename) == "" || len(content) == 0 {
		return "", "", logging.NewOperationError("usecase.ingest_preview", opID, imagestore.ErrEmptyUpload)
	}

	previewName := "preview-" + uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	stored, err := uc.images.Save(previewName, content)
	if err != nil {
		opLogger.Warn("preview ingestion rejected", zap.Error(err), zap.String("filename", filename))
		return "", "", logging.NewOperationError("usecase.ingest_preview", opID, err)
	}

	tensor, err := uc.preprocessFn(uc.images.Path(stored), previewTargetSize, previewTargetSize)
	if err != nil {
		opLogger.Warn("preview preprocessing failed", zap.Error(err), zap.String("image", stored))
		return "", "", logging.NewOperationError("usecase.preprocess_preview", opID, err)
	}

	label, _, err := uc.classifier.Classify(ctx, tensor)
	if err != nil {
		opLogger.Error("preview inference failed", zap.Error(err), zap.String("image", stored))
		return "", "", logging.NewOperationError("usecase.classify_preview", opID, err)
	}

	return label, stored, nil
}

// ListRecent returns up to limit of the owner's records.
func (uc *AnalysisUseCase) ListRecent(ctx context.Context, ownerID string, limit int) ([]*repository.CaseRecord, error) {
	return uc.repo.ListByOwner(ctx, ownerID, limit)
}

// SearchRecords returns the owner's records whose patient name contains the
// query. An empty query returns everything, matching an unlimited list.
func (uc *AnalysisUseCase) SearchRecords(ctx context.Context, ownerID, query string) ([]*repository.CaseRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return uc.repo.ListByOwner(ctx, ownerID, 0)
	}
	return uc.repo.SearchByPatient(ctx, ownerID, query)
}

// GetRecord fetches one record for the owner, trying the cache before the
// store.
func (uc *AnalysisUseCase) GetRecord(ctx context.Context, ownerID string, id uint) (*repository.CaseRecord, error) {
	cacheKey := caseCacheKey(id)
	if cached, err := uc.withRedisGet(ctx, "", "cache.get.case", cacheKey); err == nil {
		var payload cachedCase
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_record", "").Warn("failed to decode cached case", zap.Error(err))
		} else if payload.OwnerID == ownerID {
			return &repository.CaseRecord{
				ID:          payload.ID,
				OwnerID:     payload.OwnerID,
				PatientName: payload.PatientName,
				AnalyzedAt:  payload.AnalyzedAt,
				Diagnosis:   payload.Diagnosis,
				ImagePath:   payload.ImagePath,
				CreatedAt:   payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_record", "").Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.GetByID(ctx, id, ownerID)
}

// DownloadReport renders the PDF report for one of the owner's records.
// A record whose source image has been deleted still renders, with a
// placeholder instead of the image.
func (uc *AnalysisUseCase) DownloadReport(ctx context.Context, ownerID string, id uint) ([]byte, string, error) {
	record, err := uc.GetRecord(ctx, ownerID, id)
	if err != nil {
		return nil, "", err
	}
	document, filename, err := uc.renderFn(record, uc.images)
	if err != nil {
		return nil, "", logging.NewOperationError("usecase.render_report", fmt.Sprint(id), err)
	}
	return document, filename, nil
}

// DeleteOwnerData removes every case record belonging to the owner, as part
// of cascading account deletion. Stored image files are intentionally left
// behind; their lifetime is independent of the records.
func (uc *AnalysisUseCase) DeleteOwnerData(ctx context.Context, ownerID string) error {
	records, err := uc.repo.ListByOwner(ctx, ownerID, 0)
	if err != nil {
		return err
	}

	if err := uc.repo.DeleteByOwner(ctx, ownerID); err != nil {
		return err
	}

	keys := make([]string, 0, len(records))
	for _, record := range records {
		keys = append(keys, caseCacheKey(record.ID))
	}
	if len(keys) > 0 {
		if err := uc.cache.Del(ctx, keys...); err != nil {
			uc.logger.Warn("failed to drop cached cases", zap.Error(err), zap.String("owner_id", ownerID))
		}
	}

	uc.logger.Info("owner case records deleted",
		zap.String("owner_id", ownerID),
		zap.Int("count", len(records)))
	return nil
}

func (uc *AnalysisUseCase) cacheRecord(ctx context.Context, opID string, record *repository.CaseRecord) error {
	payload := cachedCase{
		ID:          record.ID,
		OwnerID:     record.OwnerID,
		PatientName: record.PatientName,
		AnalyzedAt:  record.AnalyzedAt,
		Diagnosis:   record.Diagnosis,
		ImagePath:   record.ImagePath,
		CreatedAt:   record.CreatedAt,
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return uc.withRedisRetry(ctx, opID, "cache.set.case", func() error {
		return uc.cache.Set(ctx, caseCacheKey(record.ID), string(serialized), recordCacheTTL)
	})
}

func caseCacheKey(id uint) string {
	return fmt.Sprintf("case:%d", id)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, recordID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, recordID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, recordID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, redis.Nil) {
		return false
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

var _ Classifier = (*classifier.Adapter)(nil)
