package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository persists sign-in attempts.
type Repository interface {
	Create(ctx context.Context, attempt *SignInAttempt) error
}

// GORMRepository implements Repository using GORM.
type GORMRepository struct {
	db *gorm.DB
}

// NewGORMRepository creates a new GORM audit repository.
func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// Migrate creates or updates the sign_in_attempts table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SignInAttempt{}); err != nil {
		return fmt.Errorf("migrate sign_in_attempts: %w", err)
	}
	return nil
}

// Create inserts a new attempt.
func (r *GORMRepository) Create(ctx context.Context, attempt *SignInAttempt) error {
	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("insert sign-in attempt: %w", err)
	}
	return nil
}

// Recorder is what the sign-in flow writes to. Implementations must never
// fail the flow.
type Recorder interface {
	Record(ctx context.Context, attempt SignInAttempt)
}

// Service records attempts through a Repository and logs write failures.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Recorder on top of repo.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger.Named("AuditService"), now: time.Now}
}

// Record stores attempt, stamping request metadata and time.
func (s *Service) Record(ctx context.Context, attempt SignInAttempt) {
	meta := RequestMetaFrom(ctx)
	if attempt.ClientIP == "" {
		attempt.ClientIP = meta.ClientIP
	}
	if attempt.RequestID == "" {
		attempt.RequestID = meta.RequestID
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Create(ctx, &attempt); err != nil {
		s.logger.Error("Failed to record sign-in attempt", zap.Error(err), zap.String("email", attempt.Email))
	}
}

// NopRecorder discards every attempt.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, SignInAttempt) {}

// NewRecorder migrates db and returns a Service, or a NopRecorder when the
// audit database is disabled (db == nil).
func NewRecorder(db *gorm.DB, logger *zap.Logger) (Recorder, error) {
	if db == nil {
		logger.Info("Audit database disabled; sign-in attempts will not be recorded.")
		return NopRecorder{}, nil
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return NewService(NewGORMRepository(db), logger), nil
}
