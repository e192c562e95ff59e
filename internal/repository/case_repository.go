package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Black-prog/CanScan/internal/logging"
)

// ErrRecordNotFound is returned when no case record matches the id for the
// requesting owner. Lookups are always owner-scoped, so a record owned by
// another user is indistinguishable from a missing one.
var ErrRecordNotFound = errors.New("case record not found")

// CaseRecord is one persisted analysis outcome.
type CaseRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OwnerID     string    `gorm:"column:owner_id;index;size:64" json:"owner_id"`
	PatientName string    `gorm:"column:patient_name;size:150" json:"patient_name"`
	AnalyzedAt  string    `gorm:"column:analyzed_at;size:50" json:"analyzed_at"`
	Diagnosis   string    `gorm:"column:diagnosis;size:150" json:"diagnosis"`
	ImagePath   string    `gorm:"column:image_path;size:200" json:"image_path"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (CaseRecord) TableName() string {
	return "case_records"
}

// DiagnosisCount is one row of the per-label aggregation.
type DiagnosisCount struct {
	Diagnosis string `json:"diagnosis"`
	Count     int64  `json:"count"`
}

// CaseRepository provides owner-scoped persistence for case records.
type CaseRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCaseRepository creates a new repository instance.
func NewCaseRepository(db *gorm.DB, logger *zap.Logger) *CaseRepository {
	return &CaseRepository{
		db:             db,
		logger:         logger.Named("case_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CaseRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CaseRecord{})
}

// Create persists a new case record, assigning a fresh id.
func (r *CaseRepository) Create(ctx context.Context, record *CaseRecord) error {
	return r.executeWithRetry(ctx, "repository.create_case", record.PatientName, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// ListByOwner returns an owner's records in insertion order. A limit of zero
// or less returns everything.
func (r *CaseRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*CaseRecord, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []*CaseRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SearchByPatient returns an owner's records whose patient name contains the
// substring, case-insensitively. An empty substring matches everything.
func (r *CaseRepository) SearchByPatient(ctx context.Context, ownerID, substring string) ([]*CaseRecord, error) {
	if substring == "" {
		return r.ListByOwner(ctx, ownerID, 0)
	}
	var records []*CaseRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND patient_name ILIKE ?", ownerID, "%"+substring+"%").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID fetches a single record, enforcing ownership.
func (r *CaseRepository) GetByID(ctx context.Context, id uint, ownerID string) (*CaseRecord, error) {
	var record CaseRecord
	err := r.db.WithContext(ctx).First(&record, "id = ? AND owner_id = ?", id, ownerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Delete removes a single record by id.
func (r *CaseRepository) Delete(ctx context.Context, id uint) error {
	return r.executeWithRetry(ctx, "repository.delete_case", "", func() error {
		return r.db.WithContext(ctx).Delete(&CaseRecord{}, id).Error
	})
}

// DeleteByOwner removes every record belonging to an owner. Used by
// cascading account deletion.
func (r *CaseRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	return r.executeWithRetry(ctx, "repository.delete_owner_cases", "", func() error {
		return r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&CaseRecord{}).Error
	})
}

// AggregateDiagnoses returns per-label record counts for one owner.
func (r *CaseRepository) AggregateDiagnoses(ctx context.Context, ownerID string) ([]DiagnosisCount, error) {
	var counts []DiagnosisCount
	err := r.db.WithContext(ctx).
		Model(&CaseRecord{}).
		Select("diagnosis, COUNT(*) AS count").
		Where("owner_id = ?", ownerID).
		Group("diagnosis").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *CaseRepository) executeWithRetry(ctx context.Context, operation, recordID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
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
