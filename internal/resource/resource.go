// Package resource implements owner-scoped CRUD hooks over backend tables,
// with a per-owner query cache invalidated on every successful mutation.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("resource")

const ownerColumn = "user_id"

// Insertable is an insert payload that knows its defaults and validation.
type Insertable[I any] interface {
	WithDefaults() I
	Validate() error
}

// Patch is a sparse update payload.
type Patch interface {
	Validate() error
}

// Config describes one resource.
type Config struct {
	// Name is the resource and table name, e.g. "clients".
	Name    string
	Columns string
	Order   port.Order
	// Dependents are resources whose cached reads embed this one.
	Dependents []string
}

// Invalidator drops cached entries by tag.
type Invalidator interface {
	InvalidateTag(tag string) int
}

// Registry lets a mutation on one resource invalidate the caches of its dependents.
type Registry struct {
	mu      sync.RWMutex
	caches  map[string]Invalidator
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{caches: make(map[string]Invalidator), metrics: metrics}
}

// Register makes the cache of resource name reachable for invalidation.
func (g *Registry) Register(name string, inv Invalidator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caches[name] = inv
}

// Invalidate drops the cached reads of owner for each named resource.
func (g *Registry) Invalidate(owner string, names ...string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, name := range names {
		inv, ok := g.caches[name]
		if !ok {
			continue
		}
		n := inv.InvalidateTag(ownerTag(name, owner))
		g.metrics.AddCacheInvalidations(name, n)
	}
}

func ownerTag(name, owner string) string { return name + ":" + owner }

// Resource is an owner-scoped table of rows R created from I and patched with U.
type Resource[R any, I Insertable[I], U Patch] struct {
	cfg      Config
	rows     port.RowStore
	cache    port.Cache[[]R]
	registry *Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// New creates a resource and registers its cache with registry.
func New[R any, I Insertable[I], U Patch](cfg Config, rows port.RowStore, cache port.Cache[[]R], registry *Registry, metrics *observability.Metrics, logger *zap.Logger) *Resource[R, I, U] {
	registry.Register(cfg.Name, cache)
	return &Resource[R, I, U]{
		cfg:      cfg,
		rows:     rows,
		cache:    cache,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Name returns the resource name.
func (r *Resource[R, I, U]) Name() string { return r.cfg.Name }

// As scopes the resource to the identity supplied by src.
func (r *Resource[R, I, U]) As(src IdentitySource) *Hooks[R, I, U] {
	if src == nil {
		src = Anonymous
	}
	return &Hooks[R, I, U]{r: r, src: src}
}

// Invalidate drops every cached read of owner for this resource and its dependents.
func (r *Resource[R, I, U]) Invalidate(owner string) {
	r.registry.Invalidate(owner, append([]string{r.cfg.Name}, r.cfg.Dependents...)...)
}

func (r *Resource[R, I, U]) listKey(owner string) string {
	return r.cfg.Name + ":" + owner + ":list"
}

func (r *Resource[R, I, U]) itemKey(owner, id string) string {
	return r.cfg.Name + ":" + owner + ":item:" + id
}

func (r *Resource[R, I, U]) tags(owner string) []string {
	return []string{r.cfg.Name, ownerTag(r.cfg.Name, owner)}
}

func (r *Resource[R, I, U]) recordCache(hit bool) {
	if hit {
		r.metrics.IncrCacheHit(r.cfg.Name)
	} else {
		r.metrics.IncrCacheMiss(r.cfg.Name)
	}
}

// Hooks are the operations of one resource for one identity.
type Hooks[R any, I Insertable[I], U Patch] struct {
	r   *Resource[R, I, U]
	src IdentitySource
}

// scoped returns the caller's id and a context carrying its access token.
func (h *Hooks[R, I, U]) scoped(ctx context.Context) (string, context.Context, bool) {
	ident := h.src.CurrentIdentity()
	if ident == nil || ident.ID == "" {
		return "", ctx, false
	}
	return ident.ID, port.WithAccessToken(ctx, h.src.AccessToken()), true
}

// List returns the caller's rows. Without an identity it returns nil and
// makes no backend call.
func (h *Hooks[R, I, U]) List(ctx context.Context) ([]R, error) {
	owner, ctx, ok := h.scoped(ctx)
	if !ok {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Resource.List")
	defer span.End()
	span.SetAttributes(attribute.String("resource", h.r.cfg.Name))

	order := h.r.cfg.Order
	rows, hit, err := h.r.cache.GetOrLoad(h.r.listKey(owner), h.r.tags(owner), func() ([]R, error) {
		var out []R
		err := h.r.rows.Select(ctx, h.r.cfg.Name, port.Query{
			Columns: h.r.cfg.Columns,
			Filters: []port.Filter{port.Eq(ownerColumn, owner)},
			Order:   &order,
		}, &out)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []R{}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	h.r.recordCache(hit)
	return append([]R(nil), rows...), nil
}

// Get returns one of the caller's rows. Without an identity or id it returns
// nil, nil. Zero matches is ErrNotFound and more than one ErrMultipleRows.
func (h *Hooks[R, I, U]) Get(ctx context.Context, id string) (*R, error) {
	owner, ctx, ok := h.scoped(ctx)
	if !ok || id == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "Resource.Get")
	defer span.End()
	span.SetAttributes(attribute.String("resource", h.r.cfg.Name), attribute.String("id", id))

	rows, hit, err := h.r.cache.GetOrLoad(h.r.itemKey(owner, id), h.r.tags(owner), func() ([]R, error) {
		var out []R
		err := h.r.rows.Select(ctx, h.r.cfg.Name, port.Query{
			Columns: h.r.cfg.Columns,
			Filters: []port.Filter{port.Eq("id", id), port.Eq(ownerColumn, owner)},
		}, &out)
		if err != nil {
			return nil, err
		}
		switch len(out) {
		case 0:
			return nil, &domain.ErrNotFound{Resource: h.r.cfg.Name, ID: id}
		case 1:
			return out, nil
		default:
			return nil, &domain.ErrMultipleRows{Resource: h.r.cfg.Name, ID: id, Count: len(out)}
		}
	})
	if err != nil {
		return nil, err
	}
	h.r.recordCache(hit)
	row := rows[0]
	return &row, nil
}

// Create inserts a row owned by the caller. Any owner in the payload is overwritten.
func (h *Hooks[R, I, U]) Create(ctx context.Context, in I) (*R, error) {
	owner, ctx, ok := h.scoped(ctx)
	if !ok {
		return nil, &domain.ErrUnauthenticated{Operation: "create " + h.r.cfg.Name}
	}

	ctx, span := tracer.Start(ctx, "Resource.Create")
	defer span.End()
	span.SetAttributes(attribute.String("resource", h.r.cfg.Name))

	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	payload, err := toObject(in)
	if err != nil {
		return nil, err
	}
	payload[ownerColumn] = owner
	delete(payload, "id")

	var out []R
	if err := h.r.rows.Insert(ctx, h.r.cfg.Name, payload, &out); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &domain.ErrExternalService{
			Service: "rows/" + h.r.cfg.Name,
			Err:     fmt.Errorf("insert returned %d rows", len(out)),
		}
	}

	h.r.Invalidate(owner)
	h.r.logger.Debug("resource: created", zap.String("resource", h.r.cfg.Name), zap.String("user_id", owner))
	return &out[0], nil
}

// Update patches one of the caller's rows. A row the caller does not own is ErrNotFound.
func (h *Hooks[R, I, U]) Update(ctx context.Context, id string, patch U) (*R, error) {
	owner, ctx, ok := h.scoped(ctx)
	if !ok {
		return nil, &domain.ErrUnauthenticated{Operation: "update " + h.r.cfg.Name}
	}

	ctx, span := tracer.Start(ctx, "Resource.Update")
	defer span.End()
	span.SetAttributes(attribute.String("resource", h.r.cfg.Name), attribute.String("id", id))

	if err := patch.Validate(); err != nil {
		return nil, err
	}
	payload, err := toObject(patch)
	if err != nil {
		return nil, err
	}
	delete(payload, ownerColumn)
	delete(payload, "id")
	if len(payload) == 0 {
		return nil, &domain.ErrValidation{Field: "body", Message: "no fields to update"}
	}

	var out []R
	filters := []port.Filter{port.Eq("id", id), port.Eq(ownerColumn, owner)}
	if err := h.r.rows.Update(ctx, h.r.cfg.Name, filters, payload, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &domain.ErrNotFound{Resource: h.r.cfg.Name, ID: id}
	}

	h.r.Invalidate(owner)
	return &out[0], nil
}

// Delete removes one of the caller's rows. Deleting a missing row is not an error.
func (h *Hooks[R, I, U]) Delete(ctx context.Context, id string) error {
	owner, ctx, ok := h.scoped(ctx)
	if !ok {
		return &domain.ErrUnauthenticated{Operation: "delete " + h.r.cfg.Name}
	}

	ctx, span := tracer.Start(ctx, "Resource.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("resource", h.r.cfg.Name), attribute.String("id", id))

	filters := []port.Filter{port.Eq("id", id), port.Eq(ownerColumn, owner)}
	if err := h.r.rows.Delete(ctx, h.r.cfg.Name, filters); err != nil {
		return err
	}

	h.r.Invalidate(owner)
	return nil
}

// toObject turns a payload into its JSON object so owner columns can be forced or stripped.
func toObject(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("payload must be an object: %w", err)
	}
	return obj, nil
}
