// Package memstore is an in-memory port.RemoteStore with PostgREST-like
// semantics (equality filters, single-column ordering, unique ids and
// optional foreign keys). It backs local runs without Supabase and tests.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/port"
)

type row map[string]any

type foreignKey struct {
	column   string
	refTable string
}

// Store keeps tables as lists of JSON objects.
type Store struct {
	mu      sync.Mutex
	tables  map[string][]row
	fks     map[string][]foreignKey
	seq     int64
	failing map[string]error
	calls   map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:  make(map[string][]row),
		fks:     make(map[string][]foreignKey),
		failing: make(map[string]error),
		calls:   make(map[string]int),
	}
}

// WithForeignKey makes inserts and updates of table reject a non-null column
// value that is not an id of refTable.
func (s *Store) WithForeignKey(table, column, refTable string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fks[table] = append(s.fks[table], foreignKey{column: column, refTable: refTable})
	return s
}

// FailNext makes the next op ("list", "insert", "update", "delete") on table
// return err.
func (s *Store) FailNext(table, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[op+":"+table] = err
}

// Calls reports how many times op ran against table.
func (s *Store) Calls(table, op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+":"+table]
}

// Len reports the number of rows in table.
func (s *Store) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *Store) enter(table, op string) error {
	key := op + ":" + table
	s.calls[key]++
	if err, ok := s.failing[key]; ok {
		delete(s.failing, key)
		return err
	}
	return nil
}

func rejected(table, op, format string, args ...any) error {
	return &domain.ErrRemoteRejected{Table: table, Op: op, Err: fmt.Errorf(format, args...)}
}

func (s *Store) List(_ context.Context, table string, filter port.Filter, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(table, "list"); err != nil {
		return err
	}

	var selected []row
	for _, r := range s.tables[table] {
		if matches(r, filter) {
			selected = append(selected, r)
		}
	}
	if filter.Order != "" {
		sortRows(selected, filter.Order)
	}
	if selected == nil {
		selected = []row{}
	}

	raw, err := json.Marshal(selected)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) Insert(_ context.Context, table string, rows any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(table, "insert"); err != nil {
		return err
	}

	incoming, err := toRows(rows)
	if err != nil {
		return rejected(table, "insert", "invalid payload: %v", err)
	}

	ids := make(map[string]bool, len(s.tables[table]))
	for _, r := range s.tables[table] {
		ids[fmt.Sprint(r["id"])] = true
	}
	for _, r := range incoming {
		id, ok := r["id"].(string)
		if !ok || id == "" {
			return rejected(table, "insert", "null value in column \"id\"")
		}
		if ids[id] {
			return rejected(table, "insert", "duplicate key value violates unique constraint (id=%s)", id)
		}
		ids[id] = true
		if err := s.checkForeignKeys(table, r); err != nil {
			return rejected(table, "insert", "%v", err)
		}
	}

	// All or nothing, like a single bulk statement.
	for _, r := range incoming {
		s.seq++
		if _, ok := r["created_at"]; !ok {
			r["created_at"] = time.Unix(0, 0).Add(time.Duration(s.seq) * time.Millisecond).UTC().Format("2006-01-02T15:04:05.000000Z")
		}
		s.tables[table] = append(s.tables[table], r)
	}

	if out == nil {
		return nil
	}
	raw, err := json.Marshal(incoming)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) Update(_ context.Context, table string, filter port.Filter, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(table, "update"); err != nil {
		return err
	}

	normalized, err := toRows(patch)
	if err != nil || len(normalized) != 1 {
		return rejected(table, "update", "invalid patch")
	}
	p := normalized[0]
	if err := s.checkForeignKeys(table, p); err != nil {
		return rejected(table, "update", "%v", err)
	}

	for _, r := range s.tables[table] {
		if !matches(r, filter) {
			continue
		}
		for k, v := range p {
			r[k] = v
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, table string, filter port.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(table, "delete"); err != nil {
		return err
	}

	doomed := make(map[string]bool)
	kept := make([]row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		if matches(r, filter) {
			doomed[fmt.Sprint(r["id"])] = true
			continue
		}
		kept = append(kept, r)
	}

	// Restrict: refuse to orphan referencing rows.
	for child, fks := range s.fks {
		for _, fk := range fks {
			if fk.refTable != table {
				continue
			}
			for _, r := range s.tables[child] {
				if v, ok := r[fk.column].(string); ok && doomed[v] {
					return rejected(table, "delete", "violates foreign key %s.%s", child, fk.column)
				}
			}
		}
	}

	s.tables[table] = kept
	return nil
}

func (s *Store) checkForeignKeys(table string, r row) error {
	for _, fk := range s.fks[table] {
		v, present := r[fk.column]
		if !present || v == nil {
			continue
		}
		ref, _ := v.(string)
		found := false
		for _, parent := range s.tables[fk.refTable] {
			if parent["id"] != ref {
				continue
			}
			if uid, ok := r["user_id"]; ok && parent["user_id"] != uid {
				continue
			}
			found = true
			break
		}
		if !found {
			return fmt.Errorf("insert or update on %s violates foreign key %s -> %s", table, fk.column, fk.refTable)
		}
	}
	return nil
}

func toRows(v any) ([]row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var many []row
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one row
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, errors.New("expected object or array of objects")
	}
	return []row{one}, nil
}

func matches(r row, f port.Filter) bool {
	for col, want := range f.Eq {
		v, ok := r[col]
		if !ok || v == nil || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func sortRows(rows []row, order string) {
	col, desc := order, false
	for i := len(order) - 1; i >= 0; i-- {
		if order[i] == '.' {
			col = order[:i]
			desc = order[i+1:] == "desc"
			break
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
		if desc {
			return a > b
		}
		return a < b
	})
}
