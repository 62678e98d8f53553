package distribution

import (
	"context"
	"fmt"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

var txEdges = map[ir.TxState][]ir.TxState{
	ir.TxPending:    {ir.TxPreparing},
	ir.TxPreparing:  {ir.TxReady, ir.TxNotReady, ir.TxFailed},
	ir.TxReady:      {ir.TxCommitting, ir.TxCancelling},
	ir.TxNotReady:   {ir.TxCancelling},
	ir.TxCommitting: {ir.TxDone, ir.TxFailed},
	ir.TxCancelling: {ir.TxCancelled, ir.TxFailed},
}

// CanTransition reports whether a transaction may move from one state to
// another.
func CanTransition(from, to ir.TxState) bool {
	for _, s := range txEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ProtocolError rejects a request that is inconsistent with the
// transaction it names. It is fatal to the transaction.
type ProtocolError struct {
	TransactionID string
	Msg           string
}

func (e *ProtocolError) Error() string {
	if e.TransactionID == "" {
		return "protocol error: " + e.Msg
	}
	return fmt.Sprintf("protocol error in transaction %s: %s", e.TransactionID, e.Msg)
}

func protocolErrorf(txID, format string, args ...any) *ProtocolError {
	return &ProtocolError{TransactionID: txID, Msg: fmt.Sprintf(format, args...)}
}

// move records a legal state change.
func (c *Coordinator) move(ctx context.Context, id string, to ir.TxState, detail string) error {
	tx, ok := c.rt.History().Get(id)
	if !ok {
		return protocolErrorf(id, "unknown transaction")
	}
	if !CanTransition(tx.State, to) {
		return protocolErrorf(id, "illegal transaction transition %s -> %s", tx.State, to)
	}
	if _, err := c.rt.History().Transition(context.WithoutCancel(ctx), id, to, detail); err != nil {
		return err
	}
	c.log.Debug("transaction transition", "transaction", id, "from", tx.State, "to", to)
	return nil
}
