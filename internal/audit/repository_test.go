package audit

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupAuditDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // one connection keeps the in-memory database alive
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestNewRecorder_RecordsAttempt(t *testing.T) {
	db := setupAuditDB(t)

	recorder, err := NewRecorder(db, zap.NewNop())
	require.NoError(t, err)

	ctx := WithRequestMeta(context.Background(), RequestMeta{ClientIP: "10.0.0.1", RequestID: "req-1"})
	recorder.Record(ctx, SignInAttempt{
		Email:  "a@b.com",
		Role:   "admin",
		Target: "internal",
		State:  "redirecting",
	})

	var rows []SignInAttempt
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.NotEqual(t, uuid.Nil, row.ID)
	assert.Equal(t, "a@b.com", row.Email)
	assert.Equal(t, "redirecting", row.State)
	assert.Equal(t, "10.0.0.1", row.ClientIP)
	assert.Equal(t, "req-1", row.RequestID)
	assert.WithinDuration(t, time.Now(), row.CreatedAt, time.Minute)
}

func TestNewRecorder_NilDatabaseIsNop(t *testing.T) {
	recorder, err := NewRecorder(nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, NopRecorder{}, recorder)
	assert.NotPanics(t, func() { recorder.Record(context.Background(), SignInAttempt{Email: "a@b.com"}) })
}

func TestSignInAttempt_HasNoTokenFields(t *testing.T) {
	typ := reflect.TypeOf(SignInAttempt{})
	for i := 0; i < typ.NumField(); i++ {
		name := strings.ToLower(typ.Field(i).Name)
		assert.NotContains(t, name, "token", "field %s could hold a token", typ.Field(i).Name)
	}
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, attempt *SignInAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func TestService_Record_SwallowsWriteFailure(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(a *SignInAttempt) bool {
		return a.Email == "a@b.com" && a.State == "error" && !a.CreatedAt.IsZero()
	})).Return(errors.New("disk full")).Once()

	svc := NewService(repo, zap.NewNop())
	assert.NotPanics(t, func() {
		svc.Record(context.Background(), SignInAttempt{Email: "a@b.com", State: "error"})
	})
	repo.AssertExpectations(t)
}
