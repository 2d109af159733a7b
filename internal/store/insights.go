package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpdateInsight is the conditional-update half of the insight upsert.
// Regeneration replaces every aggregate field.
func (s *PostgresStore) UpdateInsight(ctx context.Context, insight OrgInsight) (int64, error) {
	signalWords, err := encodeJSON(insight.SignalWords)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE org_insights
		SET summary=$4, advice=$5, signal_words=$6::jsonb, mean_score=$7,
		    conversation_count=$8, member_count=$9, status=$10, generated_at=NOW()
		WHERE org_id=$1 AND theme_id=$2 AND team_id IS NOT DISTINCT FROM $3
	`, insight.OrgID, insight.ThemeID, insight.TeamID, insight.Summary, insight.Advice,
		signalWords, insight.MeanScore, insight.ConversationCount, insight.MemberCount, insight.Status)
	if err != nil {
		return 0, fmt.Errorf("update insight: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update insight rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertInsight(ctx context.Context, insight OrgInsight) error {
	signalWords, err := encodeJSON(insight.SignalWords)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO org_insights
			(org_id, theme_id, team_id, team_key, summary, advice, signal_words, mean_score,
			 conversation_count, member_count, status)
		VALUES ($1, $2, $3, COALESCE($3, ''), $4, $5, $6::jsonb, $7, $8, $9, $10)
	`, insight.OrgID, insight.ThemeID, insight.TeamID, insight.Summary, insight.Advice,
		signalWords, insight.MeanScore, insight.ConversationCount, insight.MemberCount, insight.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// GetInsight returns nil when no insight exists for the scope yet.
func (s *PostgresStore) GetInsight(ctx context.Context, orgID, themeID string, teamID *string) (*OrgInsight, error) {
	var insight OrgInsight
	var signalWordsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT org_id, theme_id, team_id, summary, advice, signal_words, mean_score,
		       conversation_count, member_count, status, generated_at
		FROM org_insights
		WHERE org_id=$1 AND theme_id=$2 AND team_id IS NOT DISTINCT FROM $3
	`, orgID, themeID, teamID).Scan(
		&insight.OrgID,
		&insight.ThemeID,
		&insight.TeamID,
		&insight.Summary,
		&insight.Advice,
		&signalWordsRaw,
		&insight.MeanScore,
		&insight.ConversationCount,
		&insight.MemberCount,
		&insight.Status,
		&insight.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get insight: %w", err)
	}
	if err := decodeJSON(signalWordsRaw, &insight.SignalWords); err != nil {
		return nil, err
	}
	return &insight, nil
}
