package migrate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mentosming/splitmate-migrate/internal/config"
	"github.com/mentosming/splitmate-migrate/internal/store"
)

// ProfilesTable holds one row per user, keyed by id and carrying the email.
const ProfilesTable = "profiles"

// Inspection is what one store knows about a user.
type Inspection struct {
	Query string
	// Profile is nil when no profile matched.
	Profile     store.Record
	Memberships []Membership
	OwnedTeams  []store.Record
}

// Membership is a team_members row joined with its team's name.
type Membership struct {
	TeamID   string
	TeamName string
	Status   string
}

// Inspect looks a user up by id when query is a UUID, otherwise by email,
// and lists the user's memberships and the teams they administer.
func Inspect(ctx context.Context, s store.Store, query string, rc config.Repair) (*Inspection, error) {
	out := &Inspection{Query: query}

	column := "email"
	if _, err := uuid.Parse(query); err == nil {
		column = "id"
	}
	profiles, err := s.Fetch(ctx, ProfilesTable, store.Eq(column, query))
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return out, nil
	}
	out.Profile = profiles[0]
	userID := text(out.Profile["id"])

	members, err := s.Fetch(ctx, rc.MembersTable, store.Eq(rc.UserColumn, userID))
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, row := range members {
		teamID := text(row[rc.TeamColumn])
		name, ok := names[teamID]
		if !ok {
			teams, err := s.Fetch(ctx, rc.TeamsTable, store.Eq("id", teamID))
			if err != nil {
				return nil, fmt.Errorf("team %s: %w", teamID, err)
			}
			if len(teams) > 0 {
				name = text(teams[0]["name"])
			}
			names[teamID] = name
		}
		out.Memberships = append(out.Memberships, Membership{
			TeamID:   teamID,
			TeamName: name,
			Status:   text(row[rc.StatusColumn]),
		})
	}

	out.OwnedTeams, err = s.Fetch(ctx, rc.TeamsTable, store.Eq(rc.AdminColumn, userID))
	if err != nil {
		return nil, err
	}
	return out, nil
}
