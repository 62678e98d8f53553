package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TomKopp/KP-WME-sub000/internal/api"
	"github.com/TomKopp/KP-WME-sub000/internal/config"
	"github.com/TomKopp/KP-WME-sub000/internal/harness"
	"github.com/TomKopp/KP-WME-sub000/internal/orchestrator"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Peers   []string
	Timeout time.Duration
}

// Plan is a migrate plan file: the migration plus where to reach the
// runtimes it names.
type Plan struct {
	Migration harness.MigrationSpec `yaml:"migration"`
	Peers     []config.Peer         `yaml:"peers"`
	// Timeout bounds the whole migration. When it expires during prepare
	// the migration is cancelled on behalf of the user.
	Timeout string `yaml:"timeout,omitempty"`
}

// LoadPlan reads a plan file and rejects unknown keys.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if p.Migration.Source == "" || p.Migration.Target == "" {
		return nil, fmt.Errorf("plan: migration source and target are required")
	}
	if p.Migration.Source == p.Migration.Target {
		return nil, fmt.Errorf("plan: source and target are both %q", p.Migration.Source)
	}
	return &p, nil
}

// peerURLs merges the plan's peers with id=url overrides.
func (p *Plan) peerURLs(overrides []string) (map[string]string, error) {
	urls := make(map[string]string, len(p.Peers))
	for _, peer := range p.Peers {
		urls[peer.ID] = peer.URL
	}
	for _, o := range overrides {
		id, url, ok := strings.Cut(o, "=")
		if !ok || id == "" || url == "" {
			return nil, fmt.Errorf("invalid --peer %q: expected id=url", o)
		}
		urls[id] = url
	}
	for _, id := range []string{p.Migration.Source, p.Migration.Target} {
		if urls[id] == "" {
			return nil, fmt.Errorf("no url for runtime %q", id)
		}
	}
	return urls, nil
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate <plan.yaml>",
		Short: "Move components between two running runtimes",
		Long: `Run one migration transaction between a source and a target runtime.

Both runtimes are prepared, then committed, or whatever was prepared is
cancelled. The plan file names the migration and the runtimes' URLs:

  migration:
    id: mig-1
    source: d1
    target: d2
    modifications:
      - id: m1
        type: ADD
        target: d2
        components:
          - {component: map, instance: map-1}
  peers:
    - {id: d1, url: "http://127.0.0.1:7401"}
    - {id: d2, url: "http://127.0.0.1:7402"}

Exit code 0 means the migration committed; 1 means it was aborted,
cancelled or failed.

Example:
  mashupctl migrate plan.yaml
  mashupctl migrate plan.yaml --peer d2=http://10.0.0.5:7400 --timeout 30s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Peers, "peer", nil, "runtime url as id=url (repeatable, overrides plan)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "cancel the migration if not done within this duration (overrides plan)")

	return cmd
}

func runMigrate(opts *MigrateOptions, planPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	plan, err := LoadPlan(planPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid plan", err)
	}
	mig, err := plan.Migration.Build()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid plan", err)
	}
	urls, err := plan.peerURLs(opts.Peers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid plan", err)
	}
	timeout := opts.Timeout
	if timeout == 0 && plan.Timeout != "" {
		if timeout, err = time.ParseDuration(plan.Timeout); err != nil {
			return WrapExitError(ExitCommandError, "invalid plan", fmt.Errorf("timeout: %w", err))
		}
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(formatter.GetErrWriter(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	source := api.NewClient(plan.Migration.Source, urls[plan.Migration.Source])
	target := api.NewClient(plan.Migration.Target, urls[plan.Migration.Target])
	formatter.VerboseLog("Migrating %s from %s (%s) to %s (%s)", mig.ID, source.ID(), urls[source.ID()], target.ID(), urls[target.ID()])

	rep, err := orchestrator.New(orchestrator.WithLogger(log)).Migrate(ctx, mig, source, target)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid migration", err)
	}

	if err := formatter.Result(rep, func(w io.Writer) error { return writeReport(w, rep) }); err != nil {
		return err
	}
	if rep.Outcome != orchestrator.OutcomeCommitted {
		return NewExitError(ExitFailure, fmt.Sprintf("migration %s %s", rep.MigrationID, rep.Outcome))
	}
	return nil
}

func writeReport(w io.Writer, rep orchestrator.Report) error {
	mark := "✓"
	if rep.Outcome != orchestrator.OutcomeCommitted {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Migration %s %s (transaction %s)\n", mark, rep.MigrationID, rep.Outcome, rep.TransactionID)
	for _, s := range rep.Steps {
		line := fmt.Sprintf("  %-8s %-7s %-7s %s", s.Runtime, s.Action, s.Role, s.Code)
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(w, line)
	}
	for _, f := range rep.Failed {
		fmt.Fprintf(w, "  failed %s: %s\n", f.Item, f.Reason)
	}
	for _, id := range slices.Sorted(maps.Keys(rep.ExecMap)) {
		fmt.Fprintf(w, "  executable %s: %t\n", id, rep.ExecMap[id])
	}
	return nil
}
