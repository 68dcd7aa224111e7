package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/boddenberg/consultant-bfa-go/internal/domain"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"github.com/google/uuid"
)

// row is one stored record in its JSON shape.
type row map[string]any

func (r row) clone() row {
	out := make(row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ownerColumn is the column row-level checks compare with the token subject.
func ownerColumn(table string) string {
	if table == "profiles" {
		return "id"
	}
	return "user_id"
}

// subject returns the caller's id when the context carries an access token.
// Without a token the call runs with service privileges.
func (s *Store) subject(ctx context.Context, table string) (string, bool, error) {
	token := port.AccessTokenFrom(ctx)
	if token == "" {
		return "", false, nil
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return "", false, &domain.ErrUnauthenticated{Operation: table}
	}
	return claims.Subject, true, nil
}

func matches(r row, filters []port.Filter) bool {
	for _, f := range filters {
		if valueString(r[f.Column]) != f.Value {
			return false
		}
	}
	return true
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}

func less(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x < y
	case string:
		y, ok := b.(string)
		return ok && x < y
	case nil:
		return b != nil
	}
	return false
}

// toRow converts a payload into its JSON object shape.
func toRow(v any) (row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var r row
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("row must be a JSON object: %w", err)
	}
	return r, nil
}

func writeOut(rows []row, out any) error {
	if out == nil {
		return nil
	}
	if rows == nil {
		rows = []row{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// embed describes a `table(col,...)` item of a select list.
type embed struct {
	table   string
	columns []string
}

// parseColumns splits a select list into plain columns and embeds.
// "*" or "" selects every column.
func parseColumns(sel string) (cols []string, embeds []embed) {
	depth := 0
	start := 0
	var items []string
	for i, ch := range sel {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, strings.TrimSpace(sel[start:i]))
				start = i + 1
			}
		}
	}
	items = append(items, strings.TrimSpace(sel[start:]))

	for _, item := range items {
		if item == "" {
			continue
		}
		open := strings.IndexByte(item, '(')
		if open < 0 {
			cols = append(cols, item)
			continue
		}
		inner := strings.TrimSuffix(item[open+1:], ")")
		e := embed{table: item[:open]}
		for _, c := range strings.Split(inner, ",") {
			if c = strings.TrimSpace(c); c != "" {
				e.columns = append(e.columns, c)
			}
		}
		embeds = append(embeds, e)
	}
	return cols, embeds
}

// foreignKey follows the naming of the schema: clients → client_id.
func foreignKey(table string) string {
	return strings.TrimSuffix(table, "s") + "_id"
}

// project applies the select list to r. Caller holds s.mu.
func (s *Store) project(r row, sel string) row {
	cols, embeds := parseColumns(sel)
	var out row
	if len(cols) == 0 || (len(cols) == 1 && cols[0] == "*") {
		out = r.clone()
	} else {
		out = make(row, len(cols))
		for _, c := range cols {
			if c == "*" {
				out = r.clone()
				continue
			}
			out[c] = r[c]
		}
	}

	for _, e := range embeds {
		ref, _ := r[foreignKey(e.table)].(string)
		out[e.table] = nil
		if ref == "" {
			continue
		}
		for _, target := range s.tables[e.table] {
			if target["id"] != ref {
				continue
			}
			sub := make(row, len(e.columns))
			for _, c := range e.columns {
				sub[c] = target[c]
			}
			out[e.table] = sub
			break
		}
	}
	return out
}

// --- RowStore ---

// Select returns the rows of table matching q.
func (s *Store) Select(ctx context.Context, table string, q port.Query, out any) error {
	sub, scoped, err := s.subject(ctx, table)
	if err != nil {
		return err
	}

	s.mu.RLock()
	var result []row
	for _, r := range s.tables[table] {
		if scoped && r[ownerColumn(table)] != sub {
			continue
		}
		if matches(r, q.Filters) {
			result = append(result, r)
		}
	}
	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(result, func(i, j int) bool {
			if asc {
				return less(result[i][col], result[j][col])
			}
			return less(result[j][col], result[i][col])
		})
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	projected := make([]row, 0, len(result))
	for _, r := range result {
		projected = append(projected, s.project(r, q.Columns))
	}
	s.mu.RUnlock()

	return writeOut(projected, out)
}

// Insert stores one row, filling id and timestamps.
func (s *Store) Insert(ctx context.Context, table string, payload any, out any) error {
	sub, scoped, err := s.subject(ctx, table)
	if err != nil {
		return err
	}
	r, err := toRow(payload)
	if err != nil {
		return &domain.ErrValidation{Field: table, Message: err.Error()}
	}
	if scoped && r[ownerColumn(table)] != sub {
		return &domain.ErrUnauthenticated{Operation: table}
	}
	if id, _ := r["id"].(string); id == "" {
		r["id"] = uuid.NewString()
	}

	s.mu.Lock()
	for _, existing := range s.tables[table] {
		if existing["id"] == r["id"] {
			s.mu.Unlock()
			return &domain.ErrConflict{Message: fmt.Sprintf("duplicate key in %s", table)}
		}
	}
	ts := s.timestamp()
	r["created_at"] = ts
	r["updated_at"] = ts
	s.tables[table] = append(s.tables[table], r)
	stored := r.clone()
	s.mu.Unlock()

	return writeOut([]row{stored}, out)
}

// Update merges patch into every matching row the caller may write.
func (s *Store) Update(ctx context.Context, table string, filters []port.Filter, patch any, out any) error {
	sub, scoped, err := s.subject(ctx, table)
	if err != nil {
		return err
	}
	p, err := toRow(patch)
	if err != nil {
		return &domain.ErrValidation{Field: table, Message: err.Error()}
	}
	delete(p, "id")
	delete(p, "created_at")
	if scoped {
		if owner, ok := p[ownerColumn(table)]; ok && owner != sub {
			return &domain.ErrUnauthenticated{Operation: table}
		}
	}

	s.mu.Lock()
	var updated []row
	for _, r := range s.tables[table] {
		if scoped && r[ownerColumn(table)] != sub {
			continue
		}
		if !matches(r, filters) {
			continue
		}
		for k, v := range p {
			r[k] = v
		}
		r["updated_at"] = s.timestamp()
		updated = append(updated, r.clone())
	}
	s.mu.Unlock()

	return writeOut(updated, out)
}

// Delete removes every matching row the caller may write.
func (s *Store) Delete(ctx context.Context, table string, filters []port.Filter) error {
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "refusing to delete without a filter"}
	}
	sub, scoped, err := s.subject(ctx, table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tables[table][:0]
	for _, r := range s.tables[table] {
		if matches(r, filters) && (!scoped || r[ownerColumn(table)] == sub) {
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}
