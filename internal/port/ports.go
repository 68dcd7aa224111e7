// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (Supabase or the in-memory backend).
package port

import (
	"context"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
)

// AuthBackend is the credential/session API of the backend-as-a-service.
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.SignUpResult, error)
	SignOut(ctx context.Context, accessToken string) error
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	GetUser(ctx context.Context, accessToken string) (*domain.Identity, error)
}

// RowStore is the row API of the backend-as-a-service. Rows travel as JSON so
// every table shares one implementation; out must be a pointer to a slice.
type RowStore interface {
	Select(ctx context.Context, table string, q Query, out any) error
	Insert(ctx context.Context, table string, row any, out any) error
	Update(ctx context.Context, table string, filters []Filter, patch any, out any) error
	Delete(ctx context.Context, table string, filters []Filter) error
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL and tag invalidation.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T, tags ...string)
	Delete(key string)
	GetOrLoad(key string, tags []string, load func() (T, error)) (T, bool, error)
	InvalidateTag(tag string) int
}

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Order sorts a selection by one column.
type Order struct {
	Column    string
	Ascending bool
}

// Query describes a read: projected columns (with embeds), filters, order and limit.
type Query struct {
	Columns string
	Filters []Filter
	Order   *Order
	Limit   int
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's access token so row calls run under
// the caller's identity (and therefore the backend's row-level policies).
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFrom returns the access token attached by WithAccessToken.
func AccessTokenFrom(ctx context.Context) string {
	v, _ := ctx.Value(accessTokenKey{}).(string)
	return v
}
