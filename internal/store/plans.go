package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpdatePlan is the conditional-update half of the plan upsert; regeneration
// overwrites the previous plan for (member, period).
func (s *PostgresStore) UpdatePlan(ctx context.Context, plan ActionPlan) (int64, error) {
	actions, err := encodeJSON(plan.Actions)
	if err != nil {
		return 0, err
	}
	sources, err := encodeJSON(plan.SourceIDs)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE action_plans
		SET actions=$3::jsonb, source_conversation_ids=$4::jsonb, generated_at=NOW()
		WHERE member_id=$1 AND period=$2
	`, plan.MemberID, plan.Period, actions, sources)
	if err != nil {
		return 0, fmt.Errorf("update plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update plan rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertPlan(ctx context.Context, plan ActionPlan) error {
	actions, err := encodeJSON(plan.Actions)
	if err != nil {
		return err
	}
	sources, err := encodeJSON(plan.SourceIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_plans (member_id, period, actions, source_conversation_ids)
		VALUES ($1, $2, $3::jsonb, $4::jsonb)
	`, plan.MemberID, plan.Period, actions, sources)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan returns nil when no plan has been generated for (member, period).
func (s *PostgresStore) GetPlan(ctx context.Context, memberID, periodKey string) (*ActionPlan, error) {
	var plan ActionPlan
	var actionsRaw, sourcesRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, period, actions, source_conversation_ids, generated_at
		FROM action_plans
		WHERE member_id=$1 AND period=$2
	`, memberID, periodKey).Scan(&plan.MemberID, &plan.Period, &actionsRaw, &sourcesRaw, &plan.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if err := decodeJSON(actionsRaw, &plan.Actions); err != nil {
		return nil, err
	}
	if err := decodeJSON(sourcesRaw, &plan.SourceIDs); err != nil {
		return nil, err
	}
	return &plan, nil
}
