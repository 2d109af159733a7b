package store

import "time"

type Organization struct {
	ID                 string
	Name               string
	ActiveMonths       []int
	Mandatory          bool
	Active             bool
	AnonymizeAfterDays int
	Description        string
	CreatedAt          time.Time
}

type Team struct {
	ID         string
	OrgID      string
	Name       string
	ArchivedAt *time.Time
	CreatedAt  time.Time
}

type Member struct {
	ID           string
	OrgID        string
	TeamID       *string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Theme is a survey topic with fixed question templates and a scoring rubric.
// Read-mostly; seeded by migrations or bootstrap.
type Theme struct {
	ID         string
	Name       string
	Visibility string // open | restricted
	Ready      bool
	SortOrder  int
	Questions  []string
	Rubric     string
}

// ThemeOverride is an org- or team-scoped visibility exception. TeamID nil
// means org-wide scope; at most one row per (org, theme, team-or-blank).
type ThemeOverride struct {
	OrgID   string
	ThemeID string
	TeamID  *string
	Visible bool
}

type Conversation struct {
	ID           string
	MemberID     string
	ThemeID      string
	TeamID       *string // snapshotted at creation
	Period       string
	Status       string  // open | completed
	Reason       *string // max_answers | clear_enough | member_choice
	StartedAt    time.Time
	EndedAt      *time.Time
	AnonymizedAt *time.Time

	// The question currently awaiting an answer. Nil once completed.
	NextQuestionRef *string
	NextQuestion    *string
}

const (
	ConversationOpen      = "open"
	ConversationCompleted = "completed"

	ReasonMaxAnswers   = "max_answers"
	ReasonClearEnough  = "clear_enough"
	ReasonMemberChoice = "member_choice"
)

// ConversationEntry is one append-only history item. Sequence is assigned by
// the insert and is strictly increasing within a conversation.
type ConversationEntry struct {
	ID             int64
	ConversationID string
	Kind           string // fixed_question | followup | annotation
	QuestionRef    string
	Question       string
	Answer         string
	Sequence       int
	CreatedAt      time.Time
}

// ConversationResult holds derived content for one conversation. Summary and
// actions are owned by independent writers and must merge, never clobber.
type ConversationResult struct {
	ConversationID     string
	MemberID           string
	ThemeID            string
	Period             string
	Round              int
	Summary            *string
	Score              *int
	Actions            []string
	SummaryGeneratedAt *time.Time
	ActionsGeneratedAt *time.Time
	UpdatedAt          time.Time
}

// ResultPatch carries only the fields a writer owns; nil fields are left
// untouched on merge.
type ResultPatch struct {
	Summary *string
	Score   *int
	Actions []string
}

type OrgInsight struct {
	OrgID             string
	ThemeID           string
	TeamID            *string
	Summary           string
	Advice            string
	SignalWords       []string
	MeanScore         float64
	ConversationCount int
	MemberCount       int
	Status            string // unavailable | available | complete
	GeneratedAt       time.Time
}

type PlanAction struct {
	Rank      int    `json:"rank"`
	Text      string `json:"text"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale"`
}

type ActionPlan struct {
	MemberID    string
	Period      string
	Actions     []PlanAction
	SourceIDs   []string
	GeneratedAt time.Time
}
