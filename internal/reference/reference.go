// Package reference builds and serves the read-only code catalogs and
// rule tables the validators consult.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/rules"
)

// Catalog table names, as reported in load status.
const (
	TableCPT   = "cpt_codes"
	TableICD10 = "icd10_codes"
	TableEdits = "ncci_edits"
)

// Rule table file names inside the rules directory.
const (
	DemographicRulesFile = "demographic_rules.json"
	ModifierRulesFile    = "modifier_rules.json"
)

// CatalogSource lists the persisted code catalogs.
type CatalogSource interface {
	ListCPTCodes(ctx context.Context) ([]*domain.CPTCode, error)
	ListICD10Codes(ctx context.Context) ([]*domain.ICD10Code, error)
	ListBundlingEdits(ctx context.Context) ([]*domain.BundlingEdit, error)
}

type editKey struct {
	column1 string
	column2 string
}

// Snapshot is an immutable view of all reference data.
// It is safe for concurrent use.
type Snapshot struct {
	cpt       map[string]*domain.CPTCode
	icd       map[string]*domain.ICD10Code
	edits     map[editKey]*domain.BundlingEdit
	demo      domain.DemographicRuleSet
	modifiers []domain.ModifierRule
	status    []domain.LoadStatus
	loadedAt  time.Time
}

// NewSnapshot indexes the given tables. Later duplicates win.
func NewSnapshot(cpts []*domain.CPTCode, icds []*domain.ICD10Code, edits []*domain.BundlingEdit,
	demo domain.DemographicRuleSet, modifiers []domain.ModifierRule) *Snapshot {
	s := &Snapshot{
		cpt:       make(map[string]*domain.CPTCode, len(cpts)),
		icd:       make(map[string]*domain.ICD10Code, len(icds)),
		edits:     make(map[editKey]*domain.BundlingEdit, len(edits)),
		demo:      demo,
		modifiers: modifiers,
		loadedAt:  time.Now().UTC(),
	}
	for _, c := range cpts {
		s.cpt[c.Code] = c
	}
	for _, c := range icds {
		s.icd[c.Code] = c
	}
	for _, e := range edits {
		s.edits[editKey{e.Column1, e.Column2}] = e
	}
	s.status = []domain.LoadStatus{
		{Name: TableCPT, State: domain.LoadOK, Count: len(s.cpt)},
		{Name: TableICD10, State: domain.LoadOK, Count: len(s.icd)},
		{Name: TableEdits, State: domain.LoadOK, Count: len(s.edits)},
		{Name: rules.TableDemographic, State: domain.LoadOK, Count: len(demo.ICD10) + len(demo.CPT)},
		{Name: rules.TableModifier, State: domain.LoadOK, Count: len(modifiers)},
	}
	return s
}

// Empty returns a snapshot with no data, every table reported missing.
func Empty() *Snapshot {
	s := NewSnapshot(nil, nil, nil, domain.DemographicRuleSet{}, nil)
	for i := range s.status {
		s.status[i].State = domain.LoadMissing
		s.status[i].Error = "not loaded"
	}
	return s
}

// CPT looks up a procedure code.
func (s *Snapshot) CPT(code string) (*domain.CPTCode, bool) {
	c, ok := s.cpt[code]
	return c, ok
}

// ICD10 looks up a diagnosis code.
func (s *Snapshot) ICD10(code string) (*domain.ICD10Code, bool) {
	c, ok := s.icd[code]
	return c, ok
}

// BundlingEdit looks up an ordered code pair.
func (s *Snapshot) BundlingEdit(column1, column2 string) (*domain.BundlingEdit, bool) {
	e, ok := s.edits[editKey{column1, column2}]
	return e, ok
}

// DemographicRules returns the range rules.
func (s *Snapshot) DemographicRules() domain.DemographicRuleSet { return s.demo }

// ModifierRules returns the allowed modifier rules.
func (s *Snapshot) ModifierRules() []domain.ModifierRule { return s.modifiers }

// Status returns the load status of every table in the snapshot.
func (s *Snapshot) Status() []domain.LoadStatus {
	out := make([]domain.LoadStatus, len(s.status))
	copy(out, s.status)
	return out
}

// Healthy reports whether every table loaded cleanly.
func (s *Snapshot) Healthy() bool {
	for _, st := range s.status {
		if !st.OK() {
			return false
		}
	}
	return true
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Load builds a snapshot from the catalog source and the rule tables in
// rulesDir. A table that fails to load is left empty and reported as
// degraded or missing; Load itself only fails when ctx is done.
func Load(ctx context.Context, src CatalogSource, rulesDir string) (*Snapshot, error) {
	var (
		cpts  []*domain.CPTCode
		icds  []*domain.ICD10Code
		edits []*domain.BundlingEdit
		demo  domain.DemographicRuleSet
		mods  []domain.ModifierRule

		status = make([]domain.LoadStatus, 5)
		wg     sync.WaitGroup
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		var err error
		cpts, err = src.ListCPTCodes(ctx)
		status[0] = catalogStatus(TableCPT, len(cpts), err)
	}()
	go func() {
		defer wg.Done()
		var err error
		icds, err = src.ListICD10Codes(ctx)
		status[1] = catalogStatus(TableICD10, len(icds), err)
	}()
	go func() {
		defer wg.Done()
		var err error
		edits, err = src.ListBundlingEdits(ctx)
		status[2] = catalogStatus(TableEdits, len(edits), err)
	}()
	go func() {
		defer wg.Done()
		demo, status[3] = rules.LoadDemographicRules(filepath.Join(rulesDir, DemographicRulesFile))
	}()
	go func() {
		defer wg.Done()
		mods, status[4] = rules.LoadModifierRules(filepath.Join(rulesDir, ModifierRulesFile))
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("reference load cancelled: %w", err)
	}

	snap := NewSnapshot(cpts, icds, edits, demo, mods)
	snap.status = status

	for _, st := range status {
		if st.OK() {
			slog.Debug("reference table loaded", "table", st.Name, "count", st.Count)
			continue
		}
		slog.Warn("reference table not loaded, dependent checks disabled",
			"table", st.Name, "state", st.State, "error", st.Error)
	}
	return snap, nil
}

func catalogStatus(name string, count int, err error) domain.LoadStatus {
	st := domain.LoadStatus{Name: name, State: domain.LoadOK, Count: count}
	if err != nil {
		st.State = domain.LoadDegraded
		st.Count = 0
		st.Error = err.Error()
	}
	return st
}

// Store holds the current snapshot and swaps it atomically on reload.
// A validation run reads Current once and uses that snapshot throughout.
type Store struct {
	current  atomic.Pointer[Snapshot]
	src      CatalogSource
	rulesDir string
	mu       sync.Mutex // serializes reloads
}

// NewStore creates a store serving an empty snapshot until Reload is called.
func NewStore(src CatalogSource, rulesDir string) *Store {
	s := &Store{src: src, rulesDir: rulesDir}
	s.current.Store(Empty())
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload rebuilds the snapshot and makes it current.
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := Load(ctx, s.src, s.rulesDir)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	for _, st := range snap.status {
		ok := 0.0
		if st.OK() {
			ok = 1
		}
		metrics.ReferenceTableState.WithLabelValues(st.Name).Set(ok)
	}
	slog.Info("reference data loaded", "healthy", snap.Healthy(), "tables", len(snap.status))
	return snap, nil
}
