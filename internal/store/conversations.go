package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertConversation creates the row. A partial unique index on
// (member_id, theme_id, period) WHERE anonymized_at IS NULL enforces the
// one-conversation-per-period invariant; a losing racer gets ErrDuplicate.
func (s *PostgresStore) InsertConversation(ctx context.Context, conversation Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, member_id, theme_id, team_id, period, status, started_at, next_question_ref, next_question)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, conversation.ID, conversation.MemberID, conversation.ThemeID, conversation.TeamID,
		conversation.Period, conversation.Status, conversation.StartedAt,
		conversation.NextQuestionRef, conversation.NextQuestion)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conversation Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, theme_id, team_id, period, status, reason, started_at, ended_at, anonymized_at, next_question_ref, next_question
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(
		&conversation.ID,
		&conversation.MemberID,
		&conversation.ThemeID,
		&conversation.TeamID,
		&conversation.Period,
		&conversation.Status,
		&conversation.Reason,
		&conversation.StartedAt,
		&conversation.EndedAt,
		&conversation.AnonymizedAt,
		&conversation.NextQuestionRef,
		&conversation.NextQuestion,
	)
	if err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

// FindPeriodConversation returns the member's non-anonymized conversation for
// (theme, period), or nil when none exists.
func (s *PostgresStore) FindPeriodConversation(ctx context.Context, memberID, themeID, periodKey string) (*Conversation, error) {
	var conversation Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, theme_id, team_id, period, status, reason, started_at, ended_at, anonymized_at, next_question_ref, next_question
		FROM conversations
		WHERE member_id=$1 AND theme_id=$2 AND period=$3 AND anonymized_at IS NULL
	`, memberID, themeID, periodKey).Scan(
		&conversation.ID,
		&conversation.MemberID,
		&conversation.ThemeID,
		&conversation.TeamID,
		&conversation.Period,
		&conversation.Status,
		&conversation.Reason,
		&conversation.StartedAt,
		&conversation.EndedAt,
		&conversation.AnonymizedAt,
		&conversation.NextQuestionRef,
		&conversation.NextQuestion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find period conversation: %w", err)
	}
	return &conversation, nil
}

// AppendEntry appends a history item, assigning the next sequence number
// inside the insert so sequences stay strictly increasing and gap-free under
// a single writer. Returns the assigned sequence.
func (s *PostgresStore) AppendEntry(ctx context.Context, entry ConversationEntry) (int, error) {
	var sequence int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversation_entries (conversation_id, kind, question_ref, question, answer, sequence)
		SELECT $1, $2, $3, $4, $5, COALESCE(MAX(sequence), 0) + 1
		FROM conversation_entries
		WHERE conversation_id=$1
		RETURNING sequence
	`, entry.ConversationID, entry.Kind, entry.QuestionRef, entry.Question, entry.Answer).Scan(&sequence)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("append entry: %w", err)
	}
	return sequence, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, conversationID string) ([]ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, kind, question_ref, question, answer, sequence, created_at
		FROM conversation_entries
		WHERE conversation_id=$1
		ORDER BY sequence ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationEntry, 0)
	for rows.Next() {
		var entry ConversationEntry
		if err := rows.Scan(&entry.ID, &entry.ConversationID, &entry.Kind, &entry.QuestionRef, &entry.Question, &entry.Answer, &entry.Sequence, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountAnswers(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversation_entries
		WHERE conversation_id=$1 AND kind IN ('fixed_question', 'followup')
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

// CompleteConversation flips open -> completed. The status guard makes a
// second completion attempt report false instead of double-applying.
func (s *PostgresStore) CompleteConversation(ctx context.Context, conversationID, reason string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status='completed', reason=$2, ended_at=NOW(), next_question_ref=NULL, next_question=NULL
		WHERE id=$1 AND status='open'
	`, conversationID, reason)
	if err != nil {
		return false, fmt.Errorf("complete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete conversation rows: %w", err)
	}
	return affected > 0, nil
}

// CompletedThemeIDs returns the distinct themes for which the member has at
// least one completed, non-anonymized conversation in the period.
func (s *PostgresStore) CompletedThemeIDs(ctx context.Context, memberID, periodKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT theme_id
		FROM conversations
		WHERE member_id=$1 AND period=$2 AND status='completed' AND anonymized_at IS NULL
	`, memberID, periodKey)
	if err != nil {
		return nil, fmt.Errorf("completed theme ids: %w", err)
	}
	defer rows.Close()

	items := make([]string, 0)
	for rows.Next() {
		var themeID string
		if err := rows.Scan(&themeID); err != nil {
			return nil, fmt.Errorf("scan completed theme id: %w", err)
		}
		items = append(items, themeID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed theme ids: %w", err)
	}
	return items, nil
}

// ListCompletedForPeriod returns the member's completed, non-anonymized
// conversations in the period, ordered by start time.
func (s *PostgresStore) ListCompletedForPeriod(ctx context.Context, memberID, periodKey string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, theme_id, team_id, period, status, reason, started_at, ended_at, anonymized_at, next_question_ref, next_question
		FROM conversations
		WHERE member_id=$1 AND period=$2 AND status='completed' AND anonymized_at IS NULL
		ORDER BY started_at ASC
	`, memberID, periodKey)
	if err != nil {
		return nil, fmt.Errorf("list completed for period: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ConversationRound computes the 1-based rank of the conversation among the
// member's completed conversations for the theme, ordered by start time.
// Re-counted at write time; backfilled data can renumber earlier rounds.
func (s *PostgresStore) ConversationRound(ctx context.Context, memberID, themeID string, startedAt time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE member_id=$1 AND theme_id=$2 AND status='completed' AND started_at <= $3
	`, memberID, themeID, startedAt).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conversation round: %w", err)
	}
	if count == 0 {
		count = 1
	}
	return count, nil
}

// ListScopedCompleted returns completed, non-anonymized conversations for a
// theme within an org, narrowed to a team when teamID is non-nil. Used by the
// insight aggregator to gather member histories.
func (s *PostgresStore) ListScopedCompleted(ctx context.Context, orgID, themeID string, teamID *string, periodKey string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.member_id, c.theme_id, c.team_id, c.period, c.status, c.reason, c.started_at, c.ended_at, c.anonymized_at, c.next_question_ref, c.next_question
		FROM conversations c
		JOIN members m ON m.id = c.member_id
		WHERE m.org_id=$1 AND c.theme_id=$2
		  AND ($3::text IS NULL OR c.team_id=$3)
		  AND ($4='' OR c.period=$4)
		  AND c.status='completed' AND c.anonymized_at IS NULL
		ORDER BY c.started_at ASC
	`, orgID, themeID, teamID, periodKey)
	if err != nil {
		return nil, fmt.Errorf("list scoped completed: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// CountMembersCompleted counts distinct members in scope with a completed,
// non-anonymized conversation for the theme in the period.
func (s *PostgresStore) CountMembersCompleted(ctx context.Context, orgID, themeID string, teamID *string, periodKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT c.member_id)
		FROM conversations c
		JOIN members m ON m.id = c.member_id
		WHERE m.org_id=$1 AND c.theme_id=$2
		  AND ($3::text IS NULL OR c.team_id=$3)
		  AND c.period=$4
		  AND c.status='completed' AND c.anonymized_at IS NULL
	`, orgID, themeID, teamID, periodKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members completed: %w", err)
	}
	return count, nil
}

// AnonymizeCompletedBefore stamps anonymized_at on the org's completed
// conversations that ended before cutoff and returns their ids so callers
// can purge derived records (search documents). Open conversations are
// never touched.
func (s *PostgresStore) AnonymizeCompletedBefore(ctx context.Context, orgID string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE conversations c
		SET anonymized_at=NOW()
		FROM members m
		WHERE m.id = c.member_id AND m.org_id=$1
		  AND c.status='completed'
		  AND c.ended_at IS NOT NULL AND c.ended_at < $2
		  AND c.anonymized_at IS NULL
		RETURNING c.id
	`, orgID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("anonymize conversations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan anonymized id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAnonymizedBefore permanently removes the org's conversations that
// were anonymized before cutoff. Entries and results go with them via
// cascading foreign keys.
func (s *PostgresStore) DeleteAnonymizedBefore(ctx context.Context, orgID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations c
		USING members m
		WHERE m.id = c.member_id AND m.org_id=$1
		  AND c.anonymized_at IS NOT NULL AND c.anonymized_at < $2
	`, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete anonymized conversations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete anonymized rows: %w", err)
	}
	return affected, nil
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	items := make([]Conversation, 0)
	for rows.Next() {
		var conversation Conversation
		if err := rows.Scan(
			&conversation.ID,
			&conversation.MemberID,
			&conversation.ThemeID,
			&conversation.TeamID,
			&conversation.Period,
			&conversation.Status,
			&conversation.Reason,
			&conversation.StartedAt,
			&conversation.EndedAt,
			&conversation.AnonymizedAt,
			&conversation.NextQuestionRef,
			&conversation.NextQuestion,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

// SetNextQuestion records the question awaiting an answer. The status guard
// keeps a completed conversation from reopening a question slot.
func (s *PostgresStore) SetNextQuestion(ctx context.Context, conversationID, questionRef, question string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET next_question_ref=$2, next_question=$3
		WHERE id=$1 AND status='open'
	`, conversationID, questionRef, question)
	if err != nil {
		return false, fmt.Errorf("set next question: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set next question rows: %w", err)
	}
	return affected > 0, nil
}
