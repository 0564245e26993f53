package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clinicgallery/casesync/gallery"
)

// memKV is an in-memory KV for tests. Values round-trip through JSON the
// same way the PocketBase-backed store does.
type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
}

func newMemKV() *memKV {
	return &memKV{
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *memKV) Get(key string, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.data[key]
	if !ok {
		return false, nil
	}
	if exp, hasExp := m.expires[key]; hasExp && time.Now().After(exp) {
		delete(m.data, key)
		delete(m.expires, key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memKV) Put(key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = string(encoded)
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *memKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.expires, key)
	return nil
}

// fakeLister serves a scripted category tree and case listing pages
type fakeLister struct {
	tree  []gallery.CategoryNode
	pages map[int][]*gallery.CaseListPage // procedureID -> pages (1-based)

	listErr   map[int]error // per-procedure listing failures
	listCalls int
}

func (f *fakeLister) GetCategoryTree(ctx context.Context) ([]gallery.CategoryNode, error) {
	return f.tree, nil
}

func (f *fakeLister) ListCaseIDs(ctx context.Context, procedureID, page int) (*gallery.CaseListPage, error) {
	f.listCalls++
	if err := f.listErr[procedureID]; err != nil {
		return nil, err
	}
	pages := f.pages[procedureID]
	if page < 1 || page > len(pages) {
		return &gallery.CaseListPage{}, nil
	}
	return pages[page-1], nil
}

// procNode builds a procedure tree node for tests
func procNode(name string, id, totalCases int) gallery.CategoryNode {
	return gallery.CategoryNode{
		Name:       name,
		IDs:        []gallery.FlexID{gallery.FlexID(id)},
		TotalCases: totalCases,
	}
}

// catNode builds a category holding the given procedures
func catNode(name string, id int, procs ...gallery.CategoryNode) gallery.CategoryNode {
	return gallery.CategoryNode{
		Name:       name,
		IDs:        []gallery.FlexID{gallery.FlexID(id)},
		TotalCases: 1,
		Procedures: procs,
	}
}

func page(hasNext *bool, ids ...int) *gallery.CaseListPage {
	return &gallery.CaseListPage{IDs: ids, HasNext: hasNext}
}

func boolPtr(v bool) *bool { return &v }

// storedCase is one record held by fakeCaseStore
type storedCase struct {
	id       string
	data     map[string]interface{}
	category string
	order    int
}

// fakeCaseStore is an in-memory CaseStore that records the write sequence
type fakeCaseStore struct {
	mu         sync.Mutex
	nextID     int
	cases      map[string]*storedCase // by external key
	categories map[int]string         // external id -> record id
	orders     map[string][]OrderEntry

	writeLog []string // ordered log of mutating operations
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{
		cases:      make(map[string]*storedCase),
		categories: make(map[int]string),
		orders:     make(map[string][]OrderEntry),
	}
}

func (s *fakeCaseStore) addCategory(externalID int, recordID string) {
	s.categories[externalID] = recordID
}

func (s *fakeCaseStore) FindByExternalKey(key string) (*CaseRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[key]
	if !ok {
		return nil, nil
	}
	return &CaseRef{ID: c.id, Key: key}, nil
}

func (s *fakeCaseStore) Create(data map[string]interface{}) (*CaseRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, _ := data["external_key"].(string)
	s.nextID++
	id := fmt.Sprintf("rec%d", s.nextID)
	s.cases[key] = &storedCase{id: id, data: data}
	s.writeLog = append(s.writeLog, "create "+key)
	return &CaseRef{ID: id, Key: key}, nil
}

func (s *fakeCaseStore) Update(ref *CaseRef, data map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[ref.Key]
	if !ok {
		return false, fmt.Errorf("no case %s", ref.Key)
	}
	changed := false
	for field, value := range data {
		if fmt.Sprintf("%v", c.data[field]) != fmt.Sprintf("%v", value) {
			changed = true
			break
		}
	}
	if changed {
		c.data = data
		s.writeLog = append(s.writeLog, "update "+ref.Key)
	}
	return changed, nil
}

func (s *fakeCaseStore) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[key]; !ok {
		return false, nil
	}
	delete(s.cases, key)
	s.writeLog = append(s.writeLog, "delete "+key)
	return true, nil
}

func (s *fakeCaseStore) AssignCategory(ref *CaseRef, categoryRecordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cases[ref.Key]; ok {
		c.category = categoryRecordID
	}
	return nil
}

func (s *fakeCaseStore) SetOrder(ref *CaseRef, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cases[ref.Key]; ok {
		c.order = index
	}
	return nil
}

func (s *fakeCaseStore) StoreCategoryOrder(categoryRecordID string, order []OrderEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[categoryRecordID] = order
	return nil
}

func (s *fakeCaseStore) FindCategoryByExternalID(externalID int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categories[externalID], nil
}

// fakeFetcher serves scripted case details keyed by case ID
type fakeFetcher struct {
	mu      sync.Mutex
	details map[int]*gallery.CanonicalCase
	errs    map[int]error
	calls   []int
	procIDs map[int][]int // procedure IDs sent with each case's request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		details: make(map[int]*gallery.CanonicalCase),
		errs:    make(map[int]error),
		procIDs: make(map[int][]int),
	}
}

func (f *fakeFetcher) addCase(caseID int, approved bool) {
	f.details[caseID] = &gallery.CanonicalCase{
		ID:       caseID,
		Approved: approved,
		Title:    fmt.Sprintf("Case %d", caseID),
	}
}

func (f *fakeFetcher) GetCaseDetail(ctx context.Context, caseID int, procedureIDs []int) (*gallery.CanonicalCase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, caseID)
	f.procIDs[caseID] = append([]int(nil), procedureIDs...)
	if err := f.errs[caseID]; err != nil {
		return nil, err
	}
	detail, ok := f.details[caseID]
	if !ok {
		return nil, fmt.Errorf("no detail for case %d", caseID)
	}
	return detail, nil
}

// newTestProcessor wires a processor over in-memory fakes
func newTestProcessor(store *fakeCaseStore, fetcher *fakeFetcher, kv *memKV, cfg ProcessorConfig) *CaseProcessor {
	return NewCaseProcessor(
		store, fetcher,
		NewCheckpointStore(kv),
		NewProgressReporter(kv),
		kv,
		cfg,
	)
}
