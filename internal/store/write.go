package store

import (
	"context"
	"fmt"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// SaveTransaction inserts a transaction or updates its state, code and
// error. Items, role and seq keep the values of the first save, so
// transactions list in the order they began.
func (s *Store) SaveTransaction(ctx context.Context, tx ir.Transaction) error {
	items, err := marshalItems(tx.Items)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, migration_id, role, state, code, error, items, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			code = excluded.code,
			error = excluded.error
	`,
		tx.ID,
		tx.MigrationID,
		string(tx.Role),
		string(tx.State),
		int(tx.Code),
		tx.Error,
		items,
		tx.Seq,
	)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// AppendTransition records a state change. Duplicate (transaction, seq)
// pairs are ignored.
//
// Note: the transaction must have been saved first (foreign key constraint).
func (s *Store) AppendTransition(ctx context.Context, tr ir.Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_transitions
		(transaction_id, from_state, to_state, detail, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id, seq) DO NOTHING
	`,
		tr.TransactionID,
		string(tr.From),
		string(tr.To),
		tr.Detail,
		tr.Seq,
	)
	if err != nil {
		return fmt.Errorf("append transition %s: %w", tr.TransactionID, err)
	}
	return nil
}

// SaveCheckpoints stores the migrated states of a transaction in one
// database transaction. A state already stored for the same instance is
// kept.
func (s *Store) SaveCheckpoints(ctx context.Context, txID string, states []ir.MigratedState) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoints: begin tx: %w", err)
	}
	defer dbtx.Rollback()

	for _, st := range states {
		data, err := marshalState(st)
		if err != nil {
			return fmt.Errorf("save checkpoints: %w", err)
		}
		_, err = dbtx.ExecContext(ctx, `
			INSERT INTO checkpoints
			(transaction_id, instance_id, component_id, digest, state)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(transaction_id, instance_id) DO NOTHING
		`,
			txID,
			st.Item.InstanceID,
			st.Item.ComponentID,
			st.Digest,
			data,
		)
		if err != nil {
			return fmt.Errorf("save checkpoints: insert %s: %w", st.Item, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("save checkpoints: commit: %w", err)
	}
	return nil
}
