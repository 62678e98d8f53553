package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
	"github.com/TomKopp/KP-WME-sub000/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database   string
	Migration  string
	Incomplete bool
}

// TransactionHistory is the detail view of one journaled transaction.
type TransactionHistory struct {
	Transaction ir.Transaction      `json:"transaction"`
	Transitions []ir.Transition     `json:"transitions"`
	Checkpoints []CheckpointSummary `json:"checkpoints,omitempty"`
}

// CheckpointSummary describes one journaled prepare output.
type CheckpointSummary struct {
	Item       ir.ComponentItem `json:"item"`
	Digest     string           `json:"digest"`
	Properties int              `json:"properties"`
	Events     int              `json:"events"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [transaction-id]",
		Short: "Inspect a runtime's transaction journal",
		Long: `List the migration transactions a runtime journaled, or show one
transaction with its state transitions and the checkpoints it carried.

The journal is read directly from the SQLite database; the runtime does
not need to be running.

Example:
  mashupctl history --db ./mashup.db
  mashupctl history --db ./mashup.db --incomplete
  mashupctl history --db ./mashup.db 0192f6d4-...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			txID := ""
			if len(args) == 1 {
				txID = args[0]
			}
			return runHistory(opts, txID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Migration, "migration", "", "only transactions of this migration")
	cmd.Flags().BoolVar(&opts.Incomplete, "incomplete", false, "only transactions not in a terminal state")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, txID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if txID != "" {
		return showTransaction(ctx, st, txID, formatter)
	}
	return listTransactions(ctx, st, opts, formatter)
}

func listTransactions(ctx context.Context, st *store.Store, opts *HistoryOptions, formatter *OutputFormatter) error {
	var (
		txs []ir.Transaction
		err error
	)
	switch {
	case opts.Incomplete:
		txs, err = st.Incomplete(ctx)
	case opts.Migration != "":
		txs, err = st.ListMigration(ctx, opts.Migration)
	default:
		txs, err = st.ListTransactions(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	if opts.Incomplete && opts.Migration != "" {
		txs = filterMigration(txs, opts.Migration)
	}
	formatter.VerboseLog("Found %d transactions", len(txs))

	return formatter.Result(txs, func(w io.Writer) error {
		if len(txs) == 0 {
			_, err := fmt.Fprintln(w, "No transactions found.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tTRANSACTION\tMIGRATION\tROLE\tSTATE\tCODE\tCOMPONENTS")
		for _, tx := range txs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n", tx.Seq, tx.ID, tx.MigrationID, tx.Role, tx.State, codeString(tx.Code), len(tx.Items))
		}
		return tw.Flush()
	})
}

func filterMigration(txs []ir.Transaction, migrationID string) []ir.Transaction {
	out := txs[:0]
	for _, tx := range txs {
		if tx.MigrationID == migrationID {
			out = append(out, tx)
		}
	}
	return out
}

func showTransaction(ctx context.Context, st *store.Store, txID string, formatter *OutputFormatter) error {
	tx, err := st.ReadTransaction(ctx, txID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("transaction %s not found", txID), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("transaction %s not found", txID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	detail := TransactionHistory{Transaction: tx}
	if detail.Transitions, err = st.ReadTransitions(ctx, txID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}
	states, err := st.ReadCheckpoints(ctx, txID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read checkpoints", err)
	}
	for _, ms := range states {
		detail.Checkpoints = append(detail.Checkpoints, CheckpointSummary{
			Item:       ms.Item,
			Digest:     ms.Digest,
			Properties: len(ms.Checkpoint.Properties),
			Events:     len(ms.Events),
		})
	}

	return formatter.Result(detail, func(w io.Writer) error {
		return writeTransaction(w, detail)
	})
}

func writeTransaction(w io.Writer, d TransactionHistory) error {
	tx := d.Transaction
	fmt.Fprintf(w, "Transaction %s\n", tx.ID)
	fmt.Fprintf(w, "  migration: %s\n", tx.MigrationID)
	fmt.Fprintf(w, "  role:      %s\n", tx.Role)
	fmt.Fprintf(w, "  state:     %s\n", tx.State)
	fmt.Fprintf(w, "  code:      %s\n", codeString(tx.Code))
	if tx.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", tx.Error)
	}
	for _, item := range tx.Items {
		fmt.Fprintf(w, "  component: %s\n", item)
	}

	fmt.Fprintln(w, "Transitions:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, tr := range d.Transitions {
		from := string(tr.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "  %d\t%s\t->\t%s\t%s\n", tr.Seq, from, tr.To, tr.Detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(d.Checkpoints) > 0 {
		fmt.Fprintln(w, "Checkpoints:")
		for _, cp := range d.Checkpoints {
			fmt.Fprintf(w, "  %s: %d properties, %d buffered events, digest %s\n", cp.Item, cp.Properties, cp.Events, cp.Digest)
		}
	}
	return nil
}

func codeString(c ir.StatusCode) string {
	if c == 0 {
		return "-"
	}
	return c.String()
}
