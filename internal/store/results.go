package store

import (
	"context"
	"fmt"
)

// UpdateResult is the conditional-update half of the result upsert. COALESCE
// keeps fields the patch does not own: a summary-only writer never clobbers
// actions and vice versa.
func (s *PostgresStore) UpdateResult(ctx context.Context, conversationID string, patch ResultPatch) (int64, error) {
	actions, err := encodeActions(patch.Actions)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_results
		SET summary = COALESCE($2, summary),
		    score = COALESCE($3, score),
		    actions = COALESCE($4::jsonb, actions),
		    summary_generated_at = CASE WHEN $2 IS NOT NULL THEN NOW() ELSE summary_generated_at END,
		    actions_generated_at = CASE WHEN $4 IS NOT NULL THEN NOW() ELSE actions_generated_at END,
		    updated_at = NOW()
		WHERE conversation_id=$1
	`, conversationID, patch.Summary, patch.Score, actions)
	if err != nil {
		return 0, fmt.Errorf("update result: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update result rows: %w", err)
	}
	return affected, nil
}

// InsertResult is the insert half of the result upsert; the unique constraint
// on conversation_id turns a lost race into ErrDuplicate.
func (s *PostgresStore) InsertResult(ctx context.Context, row ConversationResult) error {
	actions, err := encodeActions(row.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_results
			(conversation_id, member_id, theme_id, period, round, summary, score, actions,
			 summary_generated_at, actions_generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb,
			CASE WHEN $6 IS NOT NULL THEN NOW() END,
			CASE WHEN $8 IS NOT NULL THEN NOW() END)
	`, row.ConversationID, row.MemberID, row.ThemeID, row.Period, row.Round, row.Summary, row.Score, actions)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResult(ctx context.Context, conversationID string) (ConversationResult, error) {
	var row ConversationResult
	var actionsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, member_id, theme_id, period, round, summary, score, actions,
		       summary_generated_at, actions_generated_at, updated_at
		FROM conversation_results
		WHERE conversation_id=$1
	`, conversationID).Scan(
		&row.ConversationID,
		&row.MemberID,
		&row.ThemeID,
		&row.Period,
		&row.Round,
		&row.Summary,
		&row.Score,
		&actionsRaw,
		&row.SummaryGeneratedAt,
		&row.ActionsGeneratedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		return ConversationResult{}, err
	}
	if err := decodeJSON(actionsRaw, &row.Actions); err != nil {
		return ConversationResult{}, err
	}
	return row, nil
}

// CountQualifyingMembers counts distinct members in scope holding a
// non-anonymized result with a score or summary for the theme. This is the
// quorum input for insight aggregation.
func (s *PostgresStore) CountQualifyingMembers(ctx context.Context, orgID, themeID string, teamID *string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT r.member_id)
		FROM conversation_results r
		JOIN conversations c ON c.id = r.conversation_id
		JOIN members m ON m.id = r.member_id
		WHERE m.org_id=$1 AND r.theme_id=$2
		  AND ($3::text IS NULL OR c.team_id=$3)
		  AND (r.score IS NOT NULL OR r.summary IS NOT NULL)
		  AND c.anonymized_at IS NULL
	`, orgID, themeID, teamID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count qualifying members: %w", err)
	}
	return count, nil
}

// ListScopedResults returns the non-anonymized results for the theme within
// the scope, summaries and scores included, for aggregation.
func (s *PostgresStore) ListScopedResults(ctx context.Context, orgID, themeID string, teamID *string) ([]ConversationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.conversation_id, r.member_id, r.theme_id, r.period, r.round, r.summary, r.score, r.actions,
		       r.summary_generated_at, r.actions_generated_at, r.updated_at
		FROM conversation_results r
		JOIN conversations c ON c.id = r.conversation_id
		JOIN members m ON m.id = r.member_id
		WHERE m.org_id=$1 AND r.theme_id=$2
		  AND ($3::text IS NULL OR c.team_id=$3)
		  AND c.anonymized_at IS NULL
		ORDER BY r.period ASC, r.member_id ASC
	`, orgID, themeID, teamID)
	if err != nil {
		return nil, fmt.Errorf("list scoped results: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationResult, 0)
	for rows.Next() {
		var row ConversationResult
		var actionsRaw []byte
		if err := rows.Scan(
			&row.ConversationID,
			&row.MemberID,
			&row.ThemeID,
			&row.Period,
			&row.Round,
			&row.Summary,
			&row.Score,
			&actionsRaw,
			&row.SummaryGeneratedAt,
			&row.ActionsGeneratedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scoped result: %w", err)
		}
		if err := decodeJSON(actionsRaw, &row.Actions); err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scoped results: %w", err)
	}
	return items, nil
}

// encodeActions renders actions as a jsonb literal, or nil (SQL NULL) when
// the writer does not own the field.
func encodeActions(actions []string) (*string, error) {
	if actions == nil {
		return nil, nil
	}
	encoded, err := encodeJSON(actions)
	if err != nil {
		return nil, err
	}
	return &encoded, nil
}
