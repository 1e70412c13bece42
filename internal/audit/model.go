// Package audit keeps a trail of sign-in attempts. Tokens are never part of it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SignInAttempt is one terminal sign-in outcome. There is intentionally no
// field able to hold an access or refresh token.
type SignInAttempt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email          string    `gorm:"size:320;index"`
	Subject        string    `gorm:"size:128"`
	Role           string    `gorm:"size:32"`
	Target         string    `gorm:"size:16"`
	State          string    `gorm:"size:16;not null"`
	FailureKind    string    `gorm:"size:32"`
	UpstreamStatus int
	ClientIP       string    `gorm:"size:64"`
	RequestID      string    `gorm:"size:64"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

// TableName pins the table name.
func (SignInAttempt) TableName() string { return "sign_in_attempts" }

// BeforeCreate assigns an ID when the caller did not.
func (a *SignInAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// RequestMeta describes the HTTP request an attempt came from.
type RequestMeta struct {
	ClientIP  string
	RequestID string
}

type requestMetaKey struct{}

// WithRequestMeta attaches request metadata for the recorder to pick up.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the metadata attached by WithRequestMeta, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}
