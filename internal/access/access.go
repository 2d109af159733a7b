// Package access resolves whether and which themes an organization may use,
// honoring org- and team-scoped visibility overrides. Team-scoped overrides
// take precedence over org-wide ones; in the absence of any override an open
// theme is allowed and a restricted theme is denied.
package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pulse/api/internal/store"
)

var (
	ErrThemeNotFound = errors.New("theme not found")
	ErrInvalidScope  = errors.New("invalid team scope")
)

const (
	VisibilityOpen       = "open"
	VisibilityRestricted = "restricted"
)

// Store is the slice of the datastore the resolver needs.
type Store interface {
	GetTheme(ctx context.Context, themeID string) (store.Theme, error)
	ListThemes(ctx context.Context) ([]store.Theme, error)
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	GetOverride(ctx context.Context, orgID, themeID string, teamID *string) (*store.ThemeOverride, error)
	ListOverrides(ctx context.Context, orgID string) ([]store.ThemeOverride, error)
	UpdateOverride(ctx context.Context, override store.ThemeOverride) (int64, error)
	InsertOverride(ctx context.Context, override store.ThemeOverride) error
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Check reports whether the org (narrowed to a team when teamID is non-nil)
// may use the theme. Access is recomputed on every call; callers must not
// cache the answer across mutations.
func (r *Resolver) Check(ctx context.Context, orgID, themeID string, teamID *string) (bool, error) {
	theme, err := r.store.GetTheme(ctx, themeID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrThemeNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load theme: %w", err)
	}
	if !theme.Ready {
		return false, nil
	}
	if err := r.validateTeamScope(ctx, orgID, teamID); err != nil {
		return false, err
	}

	if teamID != nil {
		override, err := r.store.GetOverride(ctx, orgID, themeID, teamID)
		if err != nil {
			return false, err
		}
		if override != nil {
			return override.Visible, nil
		}
	}
	override, err := r.store.GetOverride(ctx, orgID, themeID, nil)
	if err != nil {
		return false, err
	}
	if override != nil {
		return override.Visible, nil
	}
	return theme.Visibility == VisibilityOpen, nil
}

// ListAllowed returns the IDs of every theme the scope may use, in theme
// ordering: open themes not excluded at the most specific applicable scope,
// plus restricted themes explicitly included.
func (r *Resolver) ListAllowed(ctx context.Context, orgID string, teamID *string) ([]string, error) {
	if err := r.validateTeamScope(ctx, orgID, teamID); err != nil {
		return nil, err
	}
	themes, err := r.store.ListThemes(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := r.store.ListOverrides(ctx, orgID)
	if err != nil {
		return nil, err
	}

	orgWide := make(map[string]bool)
	teamScoped := make(map[string]bool)
	for _, override := range overrides {
		if override.TeamID == nil {
			orgWide[override.ThemeID] = override.Visible
			continue
		}
		if teamID != nil && *override.TeamID == *teamID {
			teamScoped[override.ThemeID] = override.Visible
		}
	}

	allowed := make([]string, 0, len(themes))
	for _, theme := range themes {
		if !theme.Ready {
			continue
		}
		visible := theme.Visibility == VisibilityOpen
		if v, ok := orgWide[theme.ID]; ok {
			visible = v
		}
		if v, ok := teamScoped[theme.ID]; ok {
			visible = v
		}
		if visible {
			allowed = append(allowed, theme.ID)
		}
	}
	return allowed, nil
}

// SetOverride upserts the override row for the natural key
// (org, theme, team-or-org-wide). Not part of the read path.
func (r *Resolver) SetOverride(ctx context.Context, orgID, themeID string, teamID *string, visible bool) error {
	if _, err := r.store.GetTheme(ctx, themeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrThemeNotFound
		}
		return fmt.Errorf("load theme: %w", err)
	}
	if err := r.validateTeamScope(ctx, orgID, teamID); err != nil {
		return err
	}

	override := store.ThemeOverride{OrgID: orgID, ThemeID: themeID, TeamID: teamID, Visible: visible}
	return store.UpsertWithRetry(ctx,
		func(ctx context.Context) (int64, error) { return r.store.UpdateOverride(ctx, override) },
		func(ctx context.Context) error { return r.store.InsertOverride(ctx, override) },
	)
}

// validateTeamScope rejects teams that do not belong to the org or are
// archived. Archived teams reject new links of any kind.
func (r *Resolver) validateTeamScope(ctx context.Context, orgID string, teamID *string) error {
	if teamID == nil {
		return nil
	}
	team, err := r.store.GetTeam(ctx, *teamID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidScope
	}
	if err != nil {
		return fmt.Errorf("load team: %w", err)
	}
	if team.OrgID != orgID {
		return fmt.Errorf("%w: team belongs to another org", ErrInvalidScope)
	}
	if team.ArchivedAt != nil {
		return fmt.Errorf("%w: team is archived", ErrInvalidScope)
	}
	return nil
}
