package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/services"
	"game-profile-engine/storage"
)

// session opens the stack and a started engine for one user. The returned
// close func waits for background pushes before releasing anything.
func session(ctx context.Context, opts *RootOptions, userID string) (*services.ProfileEngine, func(), error) {
	stack, err := OpenStack(ctx, opts.Config, opts.Log, stackOptions{})
	if err != nil {
		return nil, nil, err
	}
	ec := stack.EngineConfig(opts.Config, opts.Log)
	ec.Identity = services.NewStaticIdentity(userID, services.IdentityHints{})
	ec.SyncInterval = 0
	engine, err := services.NewProfileEngine(ec)
	if err != nil {
		stack.Close()
		return nil, nil, err
	}
	if err := engine.Start(ctx); err != nil {
		stack.Close()
		return nil, nil, err
	}
	return engine, func() {
		engine.WaitIdle()
		_ = engine.Close()
		_ = stack.Close()
	}, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <user-id>",
		Short: "Write a player's profile as a portable snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := session(cmd.Context(), rootOpts, args[0])
			if err != nil {
				return err
			}
			defer done()

			snap, err := engine.ExportProfile(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeJSON(w, snap); err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "exported %s (level %d, %d games) to %s\n",
					snap.Profile.ID, snap.Profile.Level, snap.Profile.Stats.TotalGames, out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the snapshot to this file instead of stdout")
	return cmd
}

func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <user-id> <snapshot.json>",
		Short: "Replace a player's progression with an exported snapshot",
		Long: `Imports an export snapshot (or a bare profile document) for the player.
Achievements and badges the player already holds are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			engine, done, err := session(cmd.Context(), rootOpts, args[0])
			if err != nil {
				return err
			}
			defer done()

			p, err := engine.ImportProfile(cmd.Context(), raw)
			if err != nil {
				return err
			}
			syncErr := engine.SyncNow(cmd.Context())

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: level %d, %d xp, %d games, %d achievements\n",
				p.ID, p.Level, p.XP, p.Stats.TotalGames, len(p.Achievements))
			if syncErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "remote not updated yet: %v\n", syncErr)
			}
			return nil
		},
	}
}

// TierReport describes what one tier holds for a player.
type TierReport struct {
	Tier        storage.TierName `json:"tier"`
	Present     bool             `json:"present"`
	Valid       bool             `json:"valid"`
	Emergency   bool             `json:"emergency"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// InspectReport is the output of the inspect command.
type InspectReport struct {
	UserID    string           `json:"userId"`
	Tiers     []TierReport     `json:"tiers"`
	Winner    storage.TierName `json:"winner,omitempty"`
	Snapshots []string         `json:"snapshots"`
	Profile   *models.Profile  `json:"profile,omitempty"`
}

func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user-id>",
		Short: "Show what every tier holds for a player, without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := OpenStack(cmd.Context(), rootOpts.Config, rootOpts.Log, stackOptions{})
			if err != nil {
				return err
			}
			defer stack.Close()

			report, err := inspect(cmd.Context(), stack, args[0])
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printInspect(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func inspect(ctx context.Context, stack *Stack, id string) (InspectReport, error) {
	report := InspectReport{UserID: id, Snapshots: []string{}}
	var cands []services.Candidate

	addRaw := func(tier storage.TierName, raw []byte, ok bool, err error) {
		r := TierReport{Tier: tier, Present: ok}
		switch {
		case err != nil:
			r.Error = err.Error()
		case ok:
			r.Valid = schema.CheckIntegrity(raw)
			r.Emergency = schema.IsEmergency(raw)
			if r.Valid {
				at := schema.LastUpdatedOf(raw)
				r.LastUpdated = &at
			}
			cands = append(cands, services.Candidate{Tier: tier, Raw: raw})
		}
		report.Tiers = append(report.Tiers, r)
	}

	raw, ok, err := stack.Local.Read(id)
	addRaw(storage.TierLocal, raw, ok, err)
	raw, ok, err = stack.Session.Read(id)
	addRaw(storage.TierSession, raw, ok, err)
	if stack.Remote != nil {
		raw, ok, err = stack.Remote.LoadProfile(ctx, id)
		addRaw(storage.TierRemote, raw, ok, err)
	}

	snaps, err := stack.Local.Snapshots(id)
	if err != nil {
		return report, err
	}
	report.Snapshots = append(report.Snapshots, snaps...)

	winner, err := services.SelectCandidate(cands)
	if errors.Is(err, services.ErrNoValidCandidate) {
		return report, nil
	}
	if err != nil {
		return report, err
	}
	report.Winner = winner.Tier
	p := schema.RepairProfile(winner.Raw, id, time.Now())
	report.Profile = &p
	return report, nil
}

func printInspect(w io.Writer, r InspectReport) {
	fmt.Fprintf(w, "profile %s\n", r.UserID)
	for _, t := range r.Tiers {
		state := "absent"
		switch {
		case t.Error != "":
			state = "error: " + t.Error
		case t.Present && !t.Valid:
			state = "corrupted"
		case t.Present:
			state = "valid, updated " + t.LastUpdated.Format(time.RFC3339)
			if t.Emergency {
				state += " (synthesized)"
			}
		}
		fmt.Fprintf(w, "  %-8s %s\n", t.Tier, state)
	}
	fmt.Fprintf(w, "  snapshots: %d\n", len(r.Snapshots))
	if r.Profile == nil {
		fmt.Fprintln(w, "  no valid candidate; the next sign-in creates a fresh profile")
		return
	}
	p := r.Profile
	fmt.Fprintf(w, "  winner: %s\n", r.Winner)
	fmt.Fprintf(w, "  %s (%s) level %d, %d xp, %d games, %.1f%% wins, %d achievements\n",
		p.DisplayName, p.Username, p.Level, p.XP, p.Stats.TotalGames, p.Stats.WinRate, len(p.Achievements))
}

// RepairReport is the output of the repair command.
type RepairReport struct {
	UserID       string           `json:"userId"`
	Source       storage.TierName `json:"source,omitempty"`
	Recovered    []string         `json:"recovered"`
	LocalWritten bool             `json:"localWritten"`
	RemoteSaved  bool             `json:"remoteSaved"`
	Error        string           `json:"error,omitempty"`
}

func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	var skipRemote bool
	cmd := &cobra.Command{
		Use:   "repair <user-id>",
		Short: "Reconcile a player's tiers and write the repaired profile back",
		Long: `Runs one reconciliation pass: the newest valid document across the tiers
is repaired, its derived fields recomputed, and written back to the local
and session tiers. The remote is updated too unless --skip-remote is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := OpenStack(cmd.Context(), rootOpts.Config, rootOpts.Log, stackOptions{})
			if err != nil {
				return err
			}
			defer stack.Close()

			report := repair(cmd.Context(), stack, args[0], !skipRemote, rootOpts)
			if rootOpts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printRepair(cmd.OutOrStdout(), report)
			}
			if report.Error != "" {
				return errors.New(report.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipRemote, "skip-remote", false, "do not write the repaired profile to the remote tier")
	return cmd
}

func repair(ctx context.Context, stack *Stack, id string, pushRemote bool, opts *RootOptions) RepairReport {
	rec := services.NewReconciler(stack.Local, stack.Session, stack.Remote, services.DefaultAchievementEngine(), opts.Log, time.Now)
	res := rec.Reconcile(ctx, id)

	report := RepairReport{
		UserID:       id,
		Source:       res.Source,
		Recovered:    []string{},
		LocalWritten: res.LocalWritten,
	}
	for _, err := range res.Recovered {
		report.Recovered = append(report.Recovered, err.Error())
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
		return report
	}
	if pushRemote && stack.Remote != nil && res.RemoteReachable && res.RemoteStale {
		if err := stack.Remote.SaveProfile(ctx, id, res.Profile); err != nil {
			report.Error = fmt.Sprintf("save remote profile: %v", err)
			return report
		}
		report.RemoteSaved = true
	}
	return report
}

func printRepair(w io.Writer, r RepairReport) {
	if r.Error != "" && r.Source == "" {
		fmt.Fprintf(w, "profile %s: nothing to repair (%s)\n", r.UserID, r.Error)
		return
	}
	fmt.Fprintf(w, "profile %s: repaired from %s tier\n", r.UserID, r.Source)
	for _, rec := range r.Recovered {
		fmt.Fprintf(w, "  recovered: %s\n", rec)
	}
	fmt.Fprintf(w, "  local rewritten: %t, remote saved: %t\n", r.LocalWritten, r.RemoteSaved)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}
