package reputation

import (
	"errors"
	"sync"
	"time"

	"github.com/agentchat/relay/internal/events"
)

// ErrInsufficientRating reports that an agent's available rating cannot
// cover a requested stake.
var ErrInsufficientRating = errors.New("insufficient available rating for stake")

// Record is the persisted per-agent rating state.
type Record struct {
	Rating       int   `json:"rating"`
	Transactions int   `json:"transactions"`
	Updated      int64 `json:"updated"` // ms epoch
}

// Ledger is the rating book. It owns ratings, escrowed stakes, and every
// settlement rule; all mutations are serialised behind one mutex and
// flushed to the store before the call returns.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]*Record
	escrows map[string]map[string]int // escrow key -> agent -> staked points
	store   *Store
	emitter events.Emitter
}

// NewLedger creates a ledger, loading prior state from store when present.
// store and emitter may be nil (tests, ephemeral deployments).
func NewLedger(store *Store, emitter events.Emitter) (*Ledger, error) {
	l := &Ledger{
		records: make(map[string]*Record),
		escrows: make(map[string]map[string]int),
		store:   store,
		emitter: emitter,
	}
	if store != nil {
		records, err := store.Load()
		if err != nil {
			return nil, err
		}
		if records != nil {
			l.records = records
		}
	}
	return l, nil
}

func (l *Ledger) record(id string) *Record {
	rec, ok := l.records[id]
	if !ok {
		rec = &Record{Rating: DefaultRating, Updated: time.Now().UnixMilli()}
		l.records[id] = rec
	}
	return rec
}

// Rating returns an agent's current rating (default 1200).
func (l *Ledger) Rating(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.records[id]; ok {
		return rec.Rating
	}
	return DefaultRating
}

// Snapshot returns a copy of an agent's record.
func (l *Ledger) Snapshot(id string) Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.records[id]; ok {
		return *rec
	}
	return Record{Rating: DefaultRating}
}

// Available returns the rating an agent can still stake: current rating
// minus every live escrow hold.
func (l *Ledger) Available(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.availableLocked(id)
}

func (l *Ledger) availableLocked(id string) int {
	rating := DefaultRating
	if rec, ok := l.records[id]; ok {
		rating = rec.Rating
	}
	for _, holds := range l.escrows {
		rating -= holds[id]
	}
	return rating
}

// HoldStakes escrows the given stakes under one key. Either every stake is
// held or none: an agent without enough available rating fails the whole
// call with ErrInsufficientRating.
func (l *Ledger) HoldStakes(key string, stakes map[string]int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, amount := range stakes {
		if amount <= 0 {
			continue
		}
		if l.availableLocked(id) < amount {
			return ErrInsufficientRating
		}
	}

	holds := l.escrows[key]
	if holds == nil {
		holds = make(map[string]int)
		l.escrows[key] = holds
	}
	for id, amount := range stakes {
		if amount > 0 {
			holds[id] += amount
		}
	}

	l.emit(events.EscrowCreated, key, map[string]any{"stakes": stakes})
	return nil
}

// ReleaseEscrow returns every hold under key to its owner.
func (l *Ledger) ReleaseEscrow(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds, ok := l.escrows[key]
	if !ok {
		return
	}
	delete(l.escrows, key)
	l.emit(events.EscrowReleased, key, map[string]any{"stakes": holds, "disposition": "returned"})
}

// ReleaseHold returns a single agent's hold under key.
func (l *Ledger) ReleaseHold(key, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	holds, ok := l.escrows[key]
	if !ok {
		return
	}
	amount, ok := holds[id]
	if !ok {
		return
	}
	delete(holds, id)
	if len(holds) == 0 {
		delete(l.escrows, key)
	}
	l.emit(events.EscrowReleased, key, map[string]any{
		"stakes":      map[string]int{id: amount},
		"disposition": "returned",
	})
}

// TransferEscrow moves the loser's hold under key to the winner's rating
// and returns the winner's own hold. Returns the rating deltas applied.
func (l *Ledger) TransferEscrow(key, loser, winner string) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	deltas := map[string]int{}
	holds, ok := l.escrows[key]
	if !ok {
		return deltas
	}
	delete(l.escrows, key)

	if stake := holds[loser]; stake > 0 {
		loserRec := l.record(loser)
		before := loserRec.Rating
		loserRec.Rating = clampFloor(loserRec.Rating - stake)
		deltas[loser] += loserRec.Rating - before

		winnerRec := l.record(winner)
		winnerRec.Rating += stake
		deltas[winner] += stake
	}

	l.touch(loser, winner)
	l.persistLocked()
	l.emit(events.EscrowReleased, key, map[string]any{
		"stakes":      holds,
		"disposition": "transferred",
		"loser":       loser,
		"winner":      winner,
	})
	return deltas
}

// BurnEscrow destroys every hold under key: each staker loses their stake
// from their rating. Returns the rating deltas applied.
func (l *Ledger) BurnEscrow(key string) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	deltas := map[string]int{}
	holds, ok := l.escrows[key]
	if !ok {
		return deltas
	}
	delete(l.escrows, key)

	for id, stake := range holds {
		rec := l.record(id)
		before := rec.Rating
		rec.Rating = clampFloor(rec.Rating - stake)
		deltas[id] = rec.Rating - before
		rec.Updated = time.Now().UnixMilli()
	}

	l.persistLocked()
	l.emit(events.EscrowReleased, key, map[string]any{
		"stakes":      holds,
		"disposition": "burned",
	})
	return deltas
}

// SettleCompletion applies the positive-sum completion settlement: both
// parties gain (halved, min 1) and both gain a completed transaction.
func (l *Ledger) SettleCompletion(a, b string, amount float64) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recA, recB := l.record(a), l.record(b)
	gainA := CompletionGain(recA.Rating, recB.Rating, recA.Transactions, amount)
	gainB := CompletionGain(recB.Rating, recA.Rating, recB.Transactions, amount)

	recA.Rating += gainA
	recB.Rating += gainB
	recA.Transactions++
	recB.Transactions++
	l.touch(a, b)
	l.persistLocked()

	deltas := map[string]int{a: gainA, b: gainB}
	l.emit(events.SettlementCompletion, "", map[string]any{
		"parties": []string{a, b},
		"amount":  amount,
		"changes": deltas,
	})
	return deltas
}

// SettleUnilateral applies the bilateral dispute settlement: the at-fault
// party loses, the disputer gains half the loss.
func (l *Ledger) SettleUnilateral(atFault, disputer string, amount float64) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	faultRec, dispRec := l.record(atFault), l.record(disputer)
	loss := DisputeLoss(faultRec.Rating, dispRec.Rating, faultRec.Transactions, amount)
	gain := DisputerGain(loss)

	before := faultRec.Rating
	faultRec.Rating = clampFloor(faultRec.Rating - loss)
	dispRec.Rating += gain
	l.touch(atFault, disputer)
	l.persistLocked()

	deltas := map[string]int{atFault: faultRec.Rating - before, disputer: gain}
	l.emit(events.SettlementDispute, "", map[string]any{
		"at_fault":     atFault,
		"disputed_by":  disputer,
		"amount":       amount,
		"loser_delta":  deltas[atFault],
		"winner_delta": gain,
		"rule":         "disputer_gains_half",
	})
	return deltas
}

// SettleMutual applies the mutual-fault settlement: both parties lose
// their computed amounts.
func (l *Ledger) SettleMutual(a, b string, amount float64) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recA, recB := l.record(a), l.record(b)
	lossA := DisputeLoss(recA.Rating, recB.Rating, recA.Transactions, amount)
	lossB := DisputeLoss(recB.Rating, recA.Rating, recB.Transactions, amount)

	beforeA, beforeB := recA.Rating, recB.Rating
	recA.Rating = clampFloor(recA.Rating - lossA)
	recB.Rating = clampFloor(recB.Rating - lossB)
	l.touch(a, b)
	l.persistLocked()

	deltas := map[string]int{a: recA.Rating - beforeA, b: recB.Rating - beforeB}
	l.emit(events.SettlementDispute, "", map[string]any{
		"parties": []string{a, b},
		"amount":  amount,
		"changes": deltas,
		"rule":    "mutual_fault",
	})
	return deltas
}

// Adjust applies a direct rating delta (arbiter majority bonus). The floor
// still applies. Returns the delta actually applied.
func (l *Ledger) Adjust(id string, delta int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(id)
	before := rec.Rating
	rec.Rating = clampFloor(rec.Rating + delta)
	rec.Updated = time.Now().UnixMilli()
	l.persistLocked()
	return rec.Rating - before
}

func (l *Ledger) touch(ids ...string) {
	now := time.Now().UnixMilli()
	for _, id := range ids {
		if rec, ok := l.records[id]; ok {
			rec.Updated = now
		}
	}
}

func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	snapshot := make(map[string]Record, len(l.records))
	for id, rec := range l.records {
		snapshot[id] = *rec
	}
	l.store.Save(snapshot)
}

func (l *Ledger) emit(eventType, subject string, data map[string]any) {
	if l.emitter != nil {
		l.emitter.Emit(eventType, subject, data)
	}
}
