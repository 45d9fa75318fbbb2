// Package memory is an in-process implementation of the repository contracts. It backs
// the service when no Postgres DSN is configured and drives the lifecycle tests.
//
// A unit of work holds the store's write lock for its whole duration and mutates a copy
// of the committed state, which replaces the original only when the work succeeds.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/repository"
)

// Fault points that can be armed with FailOn.
const (
	OpNextSerial  = "tickets.next"
	OpAppendEvent = "events.append"
	OpUpdateAsset = "assets.update"
	OpUpsertFix   = "fixes.upsert"
)

type state struct {
	assets   map[domain.AssetKey]domain.Asset
	events   []domain.StatusEvent
	byTicket map[domain.ServiceTicketID]int
	fixes    map[domain.ServiceTicketID]domain.FixRecord
}

func newState() state {
	return state{
		assets:   map[domain.AssetKey]domain.Asset{},
		byTicket: map[domain.ServiceTicketID]int{},
		fixes:    map[domain.ServiceTicketID]domain.FixRecord{},
	}
}

func (s state) clone() state {
	c := state{
		assets:   make(map[domain.AssetKey]domain.Asset, len(s.assets)),
		events:   make([]domain.StatusEvent, len(s.events)),
		byTicket: make(map[domain.ServiceTicketID]int, len(s.byTicket)),
		fixes:    make(map[domain.ServiceTicketID]domain.FixRecord, len(s.fixes)),
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	copy(c.events, s.events)
	for k, v := range s.byTicket {
		c.byTicket[k] = v
	}
	for k, v := range s.fixes {
		c.fixes[k] = v
	}
	return c
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	state  state
	serial int64
	users  map[int64]domain.User
	faults map[string]error
	now    func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state:  newState(),
		users:  map[int64]domain.User{},
		faults: map[string]error{},
		now:    time.Now,
	}
}

// FailOn arms a one-shot failure: the next unit of work reaching op returns err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// AddUser registers a directory entry.
func (s *Store) AddUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Provision creates Working assets outside of any unit of work.
func (s *Store) Provision(roomID string, pcNumbers ...string) int {
	created := 0
	_ = s.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		n, err := tx.Assets().Provision(ctx, roomID, pcNumbers)
		created = n
		return err
	})
	return created
}

// Asset returns the committed snapshot of one asset.
func (s *Store) Asset(key domain.AssetKey) (domain.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assets[key]
	return a, ok
}

// AllEvents returns every committed event in append order.
func (s *Store) AllEvents() []domain.StatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StatusEvent(nil), s.state.events...)
}

// AllFixes returns every committed fix record ordered by ticket.
func (s *Store) AllFixes() []domain.FixRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FixRecord, 0, len(s.state.fixes))
	for _, f := range s.state.fixes {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceTicketID < out[j].ServiceTicketID })
	return out
}

// Do implements repository.UnitOfWork.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := &memTx{store: s, state: s.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work.state
	return nil
}

// fault consumes an armed failure; callers hold s.mu.
func (s *Store) fault(op string) error {
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

type memTx struct {
	store *Store
	state state
}

func (t *memTx) Assets() repository.AssetRepository { return assetStore{t} }
func (t *memTx) Events() repository.StatusEventRepository { return eventStore{t} }
func (t *memTx) Fixes() repository.FixRepository { return fixStore{t} }
func (t *memTx) Tickets() repository.TicketSequencer { return sequencer{t} }

type assetStore struct{ tx *memTx }

func (a assetStore) GetForUpdate(_ context.Context, key domain.AssetKey) (*domain.Asset, error) {
	asset, ok := a.tx.state.assets[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &asset, nil
}

func (a assetStore) Update(_ context.Context, asset *domain.Asset) error {
	if err := a.tx.store.fault(OpUpdateAsset); err != nil {
		return err
	}
	if _, ok := a.tx.state.assets[asset.Key()]; !ok {
		return repository.ErrNotFound
	}
	a.tx.state.assets[asset.Key()] = *asset
	return nil
}

func (a assetStore) Provision(_ context.Context, roomID string, pcNumbers []string) (int, error) {
	created := 0
	for _, pc := range pcNumbers {
		key := domain.AssetKey{RoomID: roomID, PCNumber: pc}
		if _, ok := a.tx.state.assets[key]; ok {
			continue
		}
		a.tx.state.assets[key] = domain.Asset{
			RoomID:      roomID,
			PCNumber:    pc,
			Status:      domain.AssetStatusWorking,
			LastUpdated: a.tx.store.now().UTC(),
		}
		created++
	}
	return created, nil
}

type eventStore struct{ tx *memTx }

func (e eventStore) Append(_ context.Context, event *domain.StatusEvent) error {
	if err := e.tx.store.fault(OpAppendEvent); err != nil {
		return err
	}
	if _, ok := e.tx.state.byTicket[event.ServiceTicketID]; ok {
		return repository.ErrDuplicateTicket
	}
	for _, existing := range e.tx.state.events {
		if existing.Serial == event.Serial {
			return repository.ErrDuplicateTicket
		}
	}
	ev := *event
	ev.Issues = append([]string(nil), event.Issues...)
	e.tx.state.byTicket[ev.ServiceTicketID] = len(e.tx.state.events)
	e.tx.state.events = append(e.tx.state.events, ev)
	return nil
}

func (e eventStore) GetByTicket(_ context.Context, id domain.ServiceTicketID) (*domain.StatusEvent, error) {
	idx, ok := e.tx.state.byTicket[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	ev := e.tx.state.events[idx]
	return &ev, nil
}

func (e eventStore) Latest(_ context.Context, key domain.AssetKey) (*domain.StatusEvent, error) {
	return latestMatching(e.tx.state.events, key, "")
}

func (e eventStore) LatestDefect(_ context.Context, key domain.AssetKey) (*domain.StatusEvent, error) {
	return latestMatching(e.tx.state.events, key, domain.AssetStatusDefective)
}

func (e eventStore) MaxSerial(_ context.Context) (int64, error) {
	var max int64
	for _, ev := range e.tx.state.events {
		if ev.Serial > max {
			max = ev.Serial
		}
	}
	return max, nil
}

func latestMatching(events []domain.StatusEvent, key domain.AssetKey, status domain.AssetStatus) (*domain.StatusEvent, error) {
	var found *domain.StatusEvent
	for i := range events {
		ev := events[i]
		if ev.Key() != key || (status != "" && ev.Status != status) {
			continue
		}
		if found == nil || ev.After(*found) {
			found = &ev
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

type fixStore struct{ tx *memTx }

func (f fixStore) Upsert(_ context.Context, fix *domain.FixRecord) error {
	if err := f.tx.store.fault(OpUpsertFix); err != nil {
		return err
	}
	f.tx.state.fixes[fix.ServiceTicketID] = *fix
	return nil
}

func (f fixStore) GetByTicket(_ context.Context, id domain.ServiceTicketID) (*domain.FixRecord, error) {
	fix, ok := f.tx.state.fixes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &fix, nil
}

// sequencer mirrors a database sequence: serials are never handed out twice, even when
// the unit of work that drew them rolls back.
type sequencer struct{ tx *memTx }

func (q sequencer) NextSerial(_ context.Context) (int64, error) {
	if err := q.tx.store.fault(OpNextSerial); err != nil {
		return 0, err
	}
	q.tx.store.serial++
	return q.tx.store.serial, nil
}

// LatestEvents implements repository.ReportRepository.
func (s *Store) LatestEvents(_ context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.LatestPerAsset(s.filterEvents(filter)), nil
}

// Events implements repository.ReportRepository.
func (s *Store) Events(_ context.Context, filter domain.ReportFilter) ([]domain.StatusEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.filterEvents(filter)
	domain.SortNewestFirst(events)
	return events, nil
}

func (s *Store) filterEvents(filter domain.ReportFilter) []domain.StatusEvent {
	var out []domain.StatusEvent
	for _, ev := range s.state.events {
		if filter.RoomID != nil && ev.RoomID != *filter.RoomID {
			continue
		}
		if !filter.Contains(ev.OccurredAt) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// EventsForTickets implements repository.ReportRepository.
func (s *Store) EventsForTickets(_ context.Context, ids []domain.ServiceTicketID) ([]domain.StatusEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StatusEvent
	for _, id := range ids {
		if idx, ok := s.state.byTicket[id]; ok {
			out = append(out, s.state.events[idx])
		}
	}
	return out, nil
}

// FixesForTickets implements repository.ReportRepository.
func (s *Store) FixesForTickets(_ context.Context, ids []domain.ServiceTicketID) ([]domain.FixRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FixRecord
	for _, id := range ids {
		if fix, ok := s.state.fixes[id]; ok {
			out = append(out, fix)
		}
	}
	return out, nil
}

// Fixes implements repository.ReportRepository.
func (s *Store) Fixes(_ context.Context, filter domain.ReportFilter) ([]domain.FixRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FixRecord
	for _, fix := range s.state.fixes {
		if filter.RoomID != nil && fix.RoomID != *filter.RoomID {
			continue
		}
		if filter.Contains(fix.FixedAt) {
			out = append(out, fix)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FixedAt.Before(out[j].FixedAt) })
	return out, nil
}

// Assets implements repository.ReportRepository.
func (s *Store) Assets(_ context.Context, roomID *string) ([]domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Asset
	for _, a := range s.state.assets {
		if roomID != nil && a.RoomID != *roomID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].PCNumber < out[j].PCNumber
	})
	return out, nil
}

// GetByID implements repository.UserRepository.
func (s *Store) GetByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

// GetByUsername implements repository.UserRepository.
func (s *Store) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// NamesByIDs implements repository.UserRepository.
func (s *Store) NamesByIDs(_ context.Context, ids []int64) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			names[id] = u.FullName()
		}
	}
	return names, nil
}

// Create implements repository.UserRepository.
func (s *Store) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var maxID int64
	for id, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) {
			return repository.ErrDuplicateUser
		}
		if id > maxID {
			maxID = id
		}
	}
	user.ID = maxID + 1
	user.CreatedAt = s.now().UTC()
	s.users[user.ID] = *user
	return nil
}

var (
	_ repository.UnitOfWork       = (*Store)(nil)
	_ repository.ReportRepository = (*Store)(nil)
	_ repository.UserRepository   = (*Store)(nil)
)

// ErrInjected is a convenience error for FailOn.
var ErrInjected = errors.New("injected failure")
