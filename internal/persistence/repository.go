// Package persistence records table runs, completed hands and the actions
// taken in them. The in-memory repository backs tests and local simulation;
// the postgres repository backs the control plane.
package persistence

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cardroom/engine/internal/game"
)

var (
	ErrHandNotFound      = errors.New("hand not found")
	ErrHandAlreadyExists = errors.New("hand already exists")
)

type TableRunStatus string

const (
	TableRunStatusIdle      TableRunStatus = "idle"
	TableRunStatusRunning   TableRunStatus = "running"
	TableRunStatusStopped   TableRunStatus = "stopped"
	TableRunStatusFailed    TableRunStatus = "failed"
	TableRunStatusCompleted TableRunStatus = "completed"
)

// TableRunRecord tracks one table's run lifecycle and aggregate counters.
type TableRunRecord struct {
	TableID        string
	Status         TableRunStatus
	StartedAt      time.Time
	EndedAt        *time.Time
	Error          string
	HandsRequested int
	HandsCompleted int
	TotalActions   int
	TotalFallbacks int
	CurrentHandNo  uint64
}

// HandRecord is the persisted history of a single hand. Board holds the
// canonical card codes; Awards carries who won which pot and with what
// category.
type HandRecord struct {
	HandID     string
	TableID    string
	HandNo     uint64
	StartedAt  time.Time
	EndedAt    *time.Time
	FinalPhase game.Phase
	Board      []string
	Pot        uint32
	Seats      []game.SeatState
	Awards     []game.PotAward
}

// ActionRecord is one betting action in a hand's timeline. Amount is zero
// for fold, check and call.
type ActionRecord struct {
	HandID     string
	Phase      game.Phase
	Seat       game.SeatNo
	Action     game.ActionKind
	Amount     uint32
	IsFallback bool
	At         time.Time
}

type Repository interface {
	UpsertTableRun(record TableRunRecord) error
	GetTableRun(tableID string) (TableRunRecord, bool, error)
	CreateHand(record HandRecord) error
	CompleteHand(handID string, final HandRecord) error
	AppendAction(record ActionRecord) error
	ListHands(tableID string) ([]HandRecord, error)
	ListActions(handID string) ([]ActionRecord, error)
}

type inMemoryRepository struct {
	mu sync.RWMutex

	tableRuns map[string]TableRunRecord
	hands     map[string]HandRecord
	actions   map[string][]ActionRecord
}

func NewInMemoryRepository() Repository {
	return &inMemoryRepository{
		tableRuns: make(map[string]TableRunRecord),
		hands:     make(map[string]HandRecord),
		actions:   make(map[string][]ActionRecord),
	}
}

func (r *inMemoryRepository) UpsertTableRun(record TableRunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tableRuns[record.TableID] = cloneTableRunRecord(record)
	return nil
}

func (r *inMemoryRepository) GetTableRun(tableID string) (TableRunRecord, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.tableRuns[tableID]
	if !ok {
		return TableRunRecord{}, false, nil
	}
	return cloneTableRunRecord(record), true, nil
}

func (r *inMemoryRepository) CreateHand(record HandRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hands[record.HandID]; exists {
		return ErrHandAlreadyExists
	}
	r.hands[record.HandID] = cloneHandRecord(record)
	return nil
}

func (r *inMemoryRepository) CompleteHand(handID string, final HandRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hands[handID]; !exists {
		return ErrHandNotFound
	}
	record := cloneHandRecord(final)
	record.HandID = handID
	r.hands[handID] = record
	return nil
}

func (r *inMemoryRepository) AppendAction(record ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hands[record.HandID]; !exists {
		return ErrHandNotFound
	}
	r.actions[record.HandID] = append(r.actions[record.HandID], record)
	return nil
}

func (r *inMemoryRepository) ListHands(tableID string) ([]HandRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hands := make([]HandRecord, 0, len(r.hands))
	for _, record := range r.hands {
		if record.TableID != tableID {
			continue
		}
		hands = append(hands, cloneHandRecord(record))
	}
	sort.Slice(hands, func(i, j int) bool {
		if hands[i].HandNo == hands[j].HandNo {
			return hands[i].HandID < hands[j].HandID
		}
		return hands[i].HandNo < hands[j].HandNo
	})
	return hands, nil
}

func (r *inMemoryRepository) ListActions(handID string) ([]ActionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ActionRecord(nil), r.actions[handID]...), nil
}

func cloneTableRunRecord(record TableRunRecord) TableRunRecord {
	out := record
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		out.EndedAt = &endedAt
	}
	return out
}

func cloneHandRecord(record HandRecord) HandRecord {
	out := record
	out.Board = append([]string(nil), record.Board...)
	out.Seats = append([]game.SeatState(nil), record.Seats...)
	out.Awards = clonePotAwards(record.Awards)
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		out.EndedAt = &endedAt
	}
	return out
}

func clonePotAwards(awards []game.PotAward) []game.PotAward {
	if len(awards) == 0 {
		return nil
	}
	out := make([]game.PotAward, 0, len(awards))
	for _, award := range awards {
		cloned := award
		cloned.Seats = append([]game.SeatNo(nil), award.Seats...)
		out = append(out, cloned)
	}
	return out
}
