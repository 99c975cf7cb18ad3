// Package memdb is an in-memory stand-in for the PostgreSQL row
// repositories, used by service tests. It implements both
// ledger.TxRepository and costing.TxRepository so the domain packages can
// embed it in their transaction mocks.
package memdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Store holds ledger and inventory state behind one mutex. It is not
// transactional: tests that need rollback semantics assert on the error
// path instead.
type Store struct {
	mu sync.Mutex

	lockDate time.Time

	accounts map[string]*ledger.Account
	mappings map[string]string

	nextEntryID int64
	entries     map[int64]*ledger.Entry
	lines       map[int64][]ledger.Line

	items         map[int64]costing.Item
	classAccounts map[costing.ItemClass]string

	nextLayerID int64
	layers      map[int64]*costing.Layer

	nextConsumptionID int64
	consumptions      []costing.Consumption
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		accounts:      map[string]*ledger.Account{},
		mappings:      map[string]string{},
		entries:       map[int64]*ledger.Entry{},
		lines:         map[int64][]ledger.Line{},
		items:         map[int64]costing.Item{},
		classAccounts: map[costing.ItemClass]string{},
		layers:        map[int64]*costing.Layer{},
	}
}

// SeedAccount registers a GL account.
func (s *Store) SeedAccount(code, name string, accountType ledger.AccountType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[code] = &ledger.Account{ID: int64(len(s.accounts) + 1), Code: code, Name: name, Type: accountType}
}

// SeedMapping registers a (module, key) → account code mapping.
func (s *Store) SeedMapping(module, key, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[module+"/"+key] = code
}

// SeedItem registers an inventory item.
func (s *Store) SeedItem(item costing.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// SeedClassAccount registers a default asset account for an item class.
func (s *Store) SeedClassAccount(class costing.ItemClass, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classAccounts[class] = code
}

// SeedLayer inserts a layer directly, bypassing validation.
func (s *Store) SeedLayer(layer costing.Layer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLayerID++
	layer.ID = s.nextLayerID
	s.layers[layer.ID] = &layer
	return layer.ID
}

// AccountBalance reads a balance without error handling, for assertions.
func (s *Store) AccountBalance(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[code]; ok {
		return account.Balance
	}
	return 0
}

// Entries returns all stored journal entries sorted by id.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		e := *entry
		e.Lines = append([]ledger.Line(nil), s.lines[e.ID]...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Layers returns all layers sorted by id.
func (s *Store) Layers() []costing.Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]costing.Layer, 0, len(s.layers))
	for _, layer := range s.layers {
		out = append(out, *layer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Layer returns one layer by id.
func (s *Store) Layer(id int64) (costing.Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layer, ok := s.layers[id]
	if !ok {
		return costing.Layer{}, false
	}
	return *layer, true
}

// ledger.TxRepository

func (s *Store) LockDate(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockDate, nil
}

func (s *Store) SetLockDate(ctx context.Context, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockDate = date
	return nil
}

func (s *Store) InsertEntry(ctx context.Context, entry ledger.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEntryID++
	entry.ID = s.nextEntryID
	entry.CreatedAt = time.Now()
	entry.Lines = nil
	s.entries[entry.ID] = &entry
	return entry.ID, nil
}

func (s *Store) InsertLines(ctx context.Context, entryID int64, lines []ledger.LineInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, in := range lines {
		s.lines[entryID] = append(s.lines[entryID], ledger.Line{
			ID:          int64(len(s.lines[entryID]) + i + 1),
			EntryID:     entryID,
			AccountCode: in.AccountCode,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: in.Description,
		})
	}
	return nil
}

func (s *Store) DeleteLines(ctx context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, entryID)
	return nil
}

func (s *Store) EntryWithLines(ctx context.Context, id int64) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	out := *entry
	out.Lines = append([]ledger.Line(nil), s.lines[id]...)
	return out, nil
}

func (s *Store) UpdateEntryHeader(ctx context.Context, id int64, date time.Time, description string, posted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	entry.Date = date
	entry.Description = description
	entry.Posted = posted
	entry.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AccountByCode(ctx context.Context, code string) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[code]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return *account, nil
}

func (s *Store) AddAccountBalance(ctx context.Context, code string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[code]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	account.Balance += delta
	return nil
}

func (s *Store) MappedAccount(ctx context.Context, module, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.mappings[module+"/"+key]
	if !ok {
		return "", ledger.ErrMappingNotFound
	}
	return code, nil
}

func (s *Store) TrialBalanceTotals(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var debits, credits int64
	for entryID, lines := range s.lines {
		entry, ok := s.entries[entryID]
		if !ok || !entry.Posted {
			continue
		}
		for _, line := range lines {
			debits += line.Debit
			credits += line.Credit
		}
	}
	return debits, credits, nil
}

// costing.TxRepository

func (s *Store) Item(ctx context.Context, id int64) (costing.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return costing.Item{}, costing.ErrItemNotFound
	}
	return item, nil
}

func (s *Store) OpenLayersForUpdate(ctx context.Context, itemID int64, location string) ([]costing.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []costing.Layer
	for _, layer := range s.layers {
		if layer.ItemID != itemID || layer.Depleted || layer.QC != costing.QCApproved {
			continue
		}
		if location != "" && layer.Location != location {
			continue
		}
		out = append(out, *layer)
	}
	sortFIFO(out)
	return out, nil
}

func (s *Store) LayersWithHeadroomForUpdate(ctx context.Context, itemID int64) ([]costing.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []costing.Layer
	for _, layer := range s.layers {
		if layer.ItemID != itemID || layer.RemainingQty >= layer.InitialQty {
			continue
		}
		out = append(out, *layer)
	}
	sortFIFO(out)
	return out, nil
}

func (s *Store) LayerForUpdate(ctx context.Context, id int64) (costing.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layer, ok := s.layers[id]
	if !ok {
		return costing.Layer{}, costing.ErrLayerNotFound
	}
	return *layer, nil
}

func (s *Store) LayerByBatchForUpdate(ctx context.Context, batchNumber string) (costing.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, layer := range s.layers {
		if layer.BatchNumber == batchNumber {
			return *layer, nil
		}
	}
	return costing.Layer{}, costing.ErrLayerNotFound
}

func (s *Store) LayersByBatchPrefixForUpdate(ctx context.Context, prefix string) ([]costing.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []costing.Layer
	for _, layer := range s.layers {
		if strings.HasPrefix(layer.BatchNumber, prefix) {
			out = append(out, *layer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertLayer(ctx context.Context, layer costing.Layer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.layers {
		if existing.BatchNumber == layer.BatchNumber {
			return 0, costing.ErrDuplicateBatch
		}
	}
	s.nextLayerID++
	layer.ID = s.nextLayerID
	s.layers[layer.ID] = &layer
	return layer.ID, nil
}

func (s *Store) UpdateLayerRemaining(ctx context.Context, id int64, remaining int64, depleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	layer, ok := s.layers[id]
	if !ok {
		return costing.ErrLayerNotFound
	}
	layer.RemainingQty = remaining
	layer.Depleted = depleted
	return nil
}

func (s *Store) DeleteLayer(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layers, id)
	return nil
}

func (s *Store) InsertConsumption(ctx context.Context, consumption costing.Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConsumptionID++
	consumption.ID = s.nextConsumptionID
	s.consumptions = append(s.consumptions, consumption)
	return nil
}

func (s *Store) ConsumptionsByRef(ctx context.Context, ref string) ([]costing.Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []costing.Consumption
	for _, c := range s.consumptions {
		if c.Ref == ref {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) DeleteConsumptionsByRef(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.consumptions[:0]
	for _, c := range s.consumptions {
		if c.Ref != ref {
			kept = append(kept, c)
		}
	}
	s.consumptions = kept
	return nil
}

func (s *Store) ClassAccount(ctx context.Context, class costing.ItemClass) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.classAccounts[class]
	if !ok {
		return "", costing.ErrClassUnmapped
	}
	return code, nil
}

func (s *Store) Availability(ctx context.Context, itemID int64, location string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, layer := range s.layers {
		if layer.ItemID != itemID || layer.Depleted || layer.QC != costing.QCApproved {
			continue
		}
		if location != "" && layer.Location != location {
			continue
		}
		total += layer.RemainingQty
	}
	return total, nil
}

func sortFIFO(layers []costing.Layer) {
	sort.Slice(layers, func(i, j int) bool {
		if layers[i].ReceiveDate.Equal(layers[j].ReceiveDate) {
			return layers[i].ID < layers[j].ID
		}
		return layers[i].ReceiveDate.Before(layers[j].ReceiveDate)
	})
}
