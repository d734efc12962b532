package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mentosming/splitmate-migrate/internal/logger"
	"github.com/mentosming/splitmate-migrate/internal/store"
)

// RepairError reports a membership that could not be written, or a failed
// read of the teams table when Team is empty.
type RepairError struct {
	Team  string
	Admin string
	Err   error
}

func (e *RepairError) Error() string {
	if e.Team == "" {
		return fmt.Sprintf("repair: read teams: %v", e.Err)
	}
	return fmt.Sprintf("repair team %s admin %s: %v", e.Team, e.Admin, e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// RepairResult summarises a repair pass.
type RepairResult struct {
	Teams    int
	Repaired int
	// Skipped counts teams without an admin.
	Skipped int
	Errors  []*RepairError
}

// Failed reports whether any membership could not be written.
func (r RepairResult) Failed() bool { return len(r.Errors) > 0 }

// Repair makes sure every team admin in the target is also a member with the
// admin status. Rows are upserted on (team, user), so running it again
// changes nothing. Individual failures are collected, not returned; the
// error is only set when ctx is cancelled.
func (m *Migrator) Repair(ctx context.Context) (RepairResult, error) {
	var (
		res RepairResult
		rc  = m.repair
		log = m.log.With(logger.Scope("repair"))
	)

	teams, err := m.adminTeams(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		log.Error("cannot read teams", logger.Error(err))
		res.Errors = append(res.Errors, &RepairError{Err: err})
		return res, nil
	}
	res.Teams = len(teams)
	log.Info("repairing admin memberships", slog.Int("teams", len(teams)))

	opts := store.UpsertOptions{OnConflict: []string{rc.TeamColumn, rc.UserColumn}}
	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		admin := text(team[rc.AdminColumn])
		if admin == "" {
			res.Skipped++
			continue
		}
		teamID := team["id"]

		row := store.Record{
			rc.TeamColumn:   teamID,
			rc.UserColumn:   team[rc.AdminColumn],
			rc.StatusColumn: rc.AdminStatus,
		}
		if err := m.target.Upsert(ctx, rc.MembersTable, []store.Record{row}, opts); err != nil {
			rerr := &RepairError{Team: text(teamID), Admin: admin, Err: err}
			res.Errors = append(res.Errors, rerr)
			log.Error("membership upsert failed",
				slog.String("team", rerr.Team),
				slog.String("admin", admin),
				logger.Error(err),
			)
			continue
		}
		res.Repaired++
		log.Debug("admin membership ensured", slog.String("team", text(teamID)), slog.String("admin", admin))
	}

	log.Info("repair finished",
		slog.Int("repaired", res.Repaired),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", len(res.Errors)),
	)
	return res, nil
}

// adminTeams reads the teams to repair: all of them, or only those owned by
// the configured admins.
func (m *Migrator) adminTeams(ctx context.Context) ([]store.Record, error) {
	rc := m.repair
	if len(rc.Admins) == 0 {
		return m.target.Fetch(ctx, rc.TeamsTable)
	}
	var out []store.Record
	for _, admin := range rc.Admins {
		rows, err := m.target.Fetch(ctx, rc.TeamsTable, store.Eq(rc.AdminColumn, admin))
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// text renders a JSON scalar for logs and comparisons; nil becomes "".
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
