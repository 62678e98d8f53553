package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

const transactionColumns = `id, migration_id, role, state, code, error, items, seq`

// ReadTransaction retrieves a single transaction by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadTransaction(ctx context.Context, id string) (ir.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ?
	`, id)
	return scanTransaction(row)
}

// ListTransactions returns every transaction, oldest first.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListTransactions(ctx context.Context) ([]ir.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// ListMigration returns the transactions of one migration, oldest first.
func (s *Store) ListMigration(ctx context.Context, migrationID string) ([]ir.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE migration_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, migrationID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ir.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ir.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, nil
}

// Incomplete returns the transactions that never reached a terminal
// state, oldest first. After a restart these need manual attention: their
// containers may still be blocked or speculative.
func (s *Store) Incomplete(ctx context.Context) ([]ir.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE state NOT IN (?, ?, ?)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(ir.TxDone), string(ir.TxCancelled), string(ir.TxFailed))
}

// ReadTransitions returns the state changes of a transaction in order.
func (s *Store) ReadTransitions(ctx context.Context, txID string) ([]ir.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, from_state, to_state, detail, seq
		FROM transaction_transitions
		WHERE transaction_id = ?
		ORDER BY seq ASC, id ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	trs := []ir.Transition{}
	for rows.Next() {
		var tr ir.Transition
		var from, to string
		if err := rows.Scan(&tr.TransactionID, &from, &to, &tr.Detail, &tr.Seq); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From, tr.To = ir.TxState(from), ir.TxState(to)
		trs = append(trs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return trs, nil
}

// ReadCheckpoints returns the migrated states stored for a transaction,
// ordered by instance id.
func (s *Store) ReadCheckpoints(ctx context.Context, txID string) ([]ir.MigratedState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state
		FROM checkpoints
		WHERE transaction_id = ?
		ORDER BY instance_id COLLATE BINARY ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	states := []ir.MigratedState{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		st, err := unmarshalState(data)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return states, nil
}

// LastSeq returns the highest history sequence number in the journal, 0
// when empty. A restarted runtime continues numbering after it.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM transactions
			UNION ALL
			SELECT seq FROM transaction_transitions
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (ir.Transaction, error) {
	var (
		tx          ir.Transaction
		role, state string
		code        int
		items       string
	)
	if err := row.Scan(&tx.ID, &tx.MigrationID, &role, &state, &code, &tx.Error, &items, &tx.Seq); err != nil {
		if err == sql.ErrNoRows {
			return ir.Transaction{}, err
		}
		return ir.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Role = ir.Role(role)
	tx.State = ir.TxState(state)
	tx.Code = ir.StatusCode(code)
	parsed, err := unmarshalItems(items)
	if err != nil {
		return ir.Transaction{}, err
	}
	tx.Items = parsed
	return tx, nil
}
