package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	var monthsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active_months, mandatory, active, anonymize_after_days, description, created_at
		FROM organizations
		WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Name, &monthsRaw, &org.Mandatory, &org.Active, &org.AnonymizeAfterDays, &org.Description, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	if err := decodeJSON(monthsRaw, &org.ActiveMonths); err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, active_months, mandatory, active, anonymize_after_days, description, created_at
		FROM organizations
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		var monthsRaw []byte
		if err := rows.Scan(&org.ID, &org.Name, &monthsRaw, &org.Mandatory, &org.Active, &org.AnonymizeAfterDays, &org.Description, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		if err := decodeJSON(monthsRaw, &org.ActiveMonths); err != nil {
			return nil, err
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertOrganization(ctx context.Context, org Organization) error {
	months, err := encodeJSON(org.ActiveMonths)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, active_months, mandatory, active, anonymize_after_days, description)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, org.ID, org.Name, months, org.Mandatory, org.Active, org.AnonymizeAfterDays, org.Description)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, archived_at, created_at
		FROM teams
		WHERE id=$1
	`, teamID).Scan(&team.ID, &team.OrgID, &team.Name, &team.ArchivedAt, &team.CreatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) InsertTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, org_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, team.ID, team.OrgID, team.Name)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, memberID string) (Member, error) {
	var member Member
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, team_id, email, display_name, password_hash, role, created_at
		FROM members
		WHERE id=$1
	`, memberID).Scan(&member.ID, &member.OrgID, &member.TeamID, &member.Email, &member.DisplayName, &member.PasswordHash, &member.Role, &member.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *PostgresStore) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	var member Member
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, team_id, email, display_name, password_hash, role, created_at
		FROM members
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&member.ID, &member.OrgID, &member.TeamID, &member.Email, &member.DisplayName, &member.PasswordHash, &member.Role, &member.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

func (s *PostgresStore) InsertMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, org_id, team_id, email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, member.ID, member.OrgID, member.TeamID, member.Email, member.DisplayName, member.PasswordHash, member.Role)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// CountMembersInScope counts members of the org, narrowed to a team when
// teamID is non-nil.
func (s *PostgresStore) CountMembersInScope(ctx context.Context, orgID string, teamID *string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM members
		WHERE org_id=$1 AND ($2::text IS NULL OR team_id=$2)
	`, orgID, teamID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members in scope: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetTheme(ctx context.Context, themeID string) (Theme, error) {
	var theme Theme
	var questionsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, visibility, ready, sort_order, questions, rubric
		FROM themes
		WHERE id=$1
	`, themeID).Scan(&theme.ID, &theme.Name, &theme.Visibility, &theme.Ready, &theme.SortOrder, &questionsRaw, &theme.Rubric)
	if err != nil {
		return Theme{}, err
	}
	if err := decodeJSON(questionsRaw, &theme.Questions); err != nil {
		return Theme{}, err
	}
	return theme, nil
}

func (s *PostgresStore) ListThemes(ctx context.Context) ([]Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, visibility, ready, sort_order, questions, rubric
		FROM themes
		ORDER BY sort_order ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	items := make([]Theme, 0)
	for rows.Next() {
		var theme Theme
		var questionsRaw []byte
		if err := rows.Scan(&theme.ID, &theme.Name, &theme.Visibility, &theme.Ready, &theme.SortOrder, &questionsRaw, &theme.Rubric); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		if err := decodeJSON(questionsRaw, &theme.Questions); err != nil {
			return nil, err
		}
		items = append(items, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTheme(ctx context.Context, theme Theme) error {
	questions, err := encodeJSON(theme.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO themes (id, name, visibility, ready, sort_order, questions, rubric)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (id) DO NOTHING
	`, theme.ID, theme.Name, theme.Visibility, theme.Ready, theme.SortOrder, questions, theme.Rubric)
	if err != nil {
		return fmt.Errorf("insert theme: %w", err)
	}
	return nil
}

// GetOverride looks up the override for exactly the given scope; teamID nil
// means the org-wide row. Returns nil when no override exists at that scope.
func (s *PostgresStore) GetOverride(ctx context.Context, orgID, themeID string, teamID *string) (*ThemeOverride, error) {
	var override ThemeOverride
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, theme_id, team_id, visible
		FROM theme_overrides
		WHERE org_id=$1 AND theme_id=$2 AND team_id IS NOT DISTINCT FROM $3
	`, orgID, themeID, teamID).Scan(&override.OrgID, &override.ThemeID, &override.TeamID, &override.Visible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return &override, nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, orgID string) ([]ThemeOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT org_id, theme_id, team_id, visible
		FROM theme_overrides
		WHERE org_id=$1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	items := make([]ThemeOverride, 0)
	for rows.Next() {
		var override ThemeOverride
		if err := rows.Scan(&override.OrgID, &override.ThemeID, &override.TeamID, &override.Visible); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		items = append(items, override)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return items, nil
}

// UpdateOverride is the conditional-update half of the override upsert.
func (s *PostgresStore) UpdateOverride(ctx context.Context, override ThemeOverride) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE theme_overrides
		SET visible=$4, updated_at=NOW()
		WHERE org_id=$1 AND theme_id=$2 AND team_id IS NOT DISTINCT FROM $3
	`, override.OrgID, override.ThemeID, override.TeamID, override.Visible)
	if err != nil {
		return 0, fmt.Errorf("update override: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update override rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertOverride(ctx context.Context, override ThemeOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO theme_overrides (org_id, theme_id, team_id, team_key, visible)
		VALUES ($1, $2, $3, COALESCE($3, ''), $4)
	`, override.OrgID, override.ThemeID, override.TeamID, override.Visible)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert override: %w", err)
	}
	return nil
}
