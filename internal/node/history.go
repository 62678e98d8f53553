package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

var (
	// ErrUnknownTransaction is returned for a transaction id the history
	// has never seen.
	ErrUnknownTransaction = errors.New("node: unknown transaction")

	// ErrDuplicateTransaction is returned when beginning a transaction id
	// that is already recorded.
	ErrDuplicateTransaction = errors.New("node: duplicate transaction")
)

// Journal persists the migration history. Implemented by store.Store.
type Journal interface {
	SaveTransaction(ctx context.Context, tx ir.Transaction) error
	AppendTransition(ctx context.Context, tr ir.Transition) error
	SaveCheckpoints(ctx context.Context, txID string, states []ir.MigratedState) error
}

// History is the in-memory record of every transaction this runtime took
// part in. Every change is stamped with a sequence number and, if a
// journal is configured, written through to it.
//
// Journal failures are logged and do not fail the change: the in-memory
// history stays authoritative for the running process.
type History struct {
	journal Journal
	log     *slog.Logger

	mu          sync.Mutex
	seq         int64
	txs         map[string]*ir.Transaction
	order       []string
	transitions map[string][]ir.Transition
}

func newHistory(j Journal, log *slog.Logger) *History {
	return &History{
		journal:     j,
		log:         log,
		txs:         make(map[string]*ir.Transaction),
		transitions: make(map[string][]ir.Transition),
	}
}

// Begin records a new transaction.
func (h *History) Begin(ctx context.Context, tx ir.Transaction) (ir.Transaction, error) {
	h.mu.Lock()
	if _, exists := h.txs[tx.ID]; exists {
		h.mu.Unlock()
		return ir.Transaction{}, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID)
	}
	h.seq++
	tx.Seq = h.seq
	stored := tx
	stored.Items = append([]ir.ComponentItem(nil), tx.Items...)
	h.txs[tx.ID] = &stored
	h.order = append(h.order, tx.ID)
	h.mu.Unlock()

	h.persist(ctx, stored)
	return stored, nil
}

// Transition moves a transaction to a new state and records the change.
// Legality of the edge is the caller's concern.
func (h *History) Transition(ctx context.Context, id string, to ir.TxState, detail string) (ir.Transition, error) {
	h.mu.Lock()
	tx, ok := h.txs[id]
	if !ok {
		h.mu.Unlock()
		return ir.Transition{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}
	h.seq++
	tr := ir.Transition{TransactionID: id, From: tx.State, To: to, Seq: h.seq, Detail: detail}
	tx.State = to
	tx.Seq = h.seq
	h.transitions[id] = append(h.transitions[id], tr)
	snapshot := *tx
	h.mu.Unlock()

	if h.journal != nil {
		if err := h.journal.AppendTransition(ctx, tr); err != nil {
			h.log.Warn("journal transition failed", "transaction", id, "error", err)
		}
	}
	h.persist(ctx, snapshot)
	return tr, nil
}

// Resolve records the status code and error message of a transaction.
func (h *History) Resolve(ctx context.Context, id string, code ir.StatusCode, errMsg string) error {
	h.mu.Lock()
	tx, ok := h.txs[id]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, id)
	}
	tx.Code = code
	tx.Error = errMsg
	snapshot := *tx
	h.mu.Unlock()

	h.persist(ctx, snapshot)
	return nil
}

// SaveCheckpoints journals the prepared states of a transaction.
func (h *History) SaveCheckpoints(ctx context.Context, id string, states []ir.MigratedState) {
	if h.journal == nil || len(states) == 0 {
		return
	}
	if err := h.journal.SaveCheckpoints(ctx, id, states); err != nil {
		h.log.Warn("journal checkpoints failed", "transaction", id, "error", err)
	}
}

func (h *History) persist(ctx context.Context, tx ir.Transaction) {
	if h.journal == nil {
		return
	}
	if err := h.journal.SaveTransaction(ctx, tx); err != nil {
		h.log.Warn("journal transaction failed", "transaction", tx.ID, "error", err)
	}
}

// Get returns a copy of one transaction.
func (h *History) Get(id string) (ir.Transaction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tx, ok := h.txs[id]
	if !ok {
		return ir.Transaction{}, false
	}
	return *tx, true
}

// Transactions returns every transaction in the order they began.
func (h *History) Transactions() []ir.Transaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ir.Transaction, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, *h.txs[id])
	}
	return out
}

// Transitions returns the recorded transitions of one transaction.
func (h *History) Transitions(id string) []ir.Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ir.Transition(nil), h.transitions[id]...)
}
