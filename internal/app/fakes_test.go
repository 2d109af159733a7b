package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"pulse/api/internal/access"
	"pulse/api/internal/authpw"
	"pulse/api/internal/config"
	"pulse/api/internal/email"
	"pulse/api/internal/llm"
	"pulse/api/internal/screening"
	"pulse/api/internal/search"
	"pulse/api/internal/session"
	"pulse/api/internal/store"
)

// fakeStore is an in-memory dataStore. All methods are safe for the
// background goroutines the service spawns after completion.
type fakeStore struct {
	mu            sync.Mutex
	orgs          map[string]store.Organization
	teams         map[string]store.Team
	members       map[string]store.Member
	themes        map[string]store.Theme
	overrides     map[string]store.ThemeOverride
	conversations map[string]store.Conversation
	entries       map[string][]store.ConversationEntry
	results       map[string]store.ConversationResult
	insights      map[string]store.OrgInsight
	plans         map[string]store.ActionPlan

	insertConversationErr error               // consumed by the next InsertConversation
	raceWinner            *store.Conversation // materialized alongside the injected error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:          map[string]store.Organization{},
		teams:         map[string]store.Team{},
		members:       map[string]store.Member{},
		themes:        map[string]store.Theme{},
		overrides:     map[string]store.ThemeOverride{},
		conversations: map[string]store.Conversation{},
		entries:       map[string][]store.ConversationEntry{},
		results:       map[string]store.ConversationResult{},
		insights:      map[string]store.OrgInsight{},
		plans:         map[string]store.ActionPlan{},
	}
}

func scopeKey(orgID, themeID string, teamID *string) string {
	key := orgID + "|" + themeID + "|"
	if teamID != nil {
		key += *teamID
	}
	return key
}

func (f *fakeStore) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	org, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (f *fakeStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orgs := make([]store.Organization, 0, len(f.orgs))
	for _, org := range f.orgs {
		orgs = append(orgs, org)
	}
	return orgs, nil
}

func (f *fakeStore) InsertOrganization(_ context.Context, org store.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orgs[org.ID] = org
	return nil
}

func (f *fakeStore) GetTeam(_ context.Context, teamID string) (store.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	team, ok := f.teams[teamID]
	if !ok {
		return store.Team{}, sql.ErrNoRows
	}
	return team, nil
}

func (f *fakeStore) InsertTeam(_ context.Context, team store.Team) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams[team.ID] = team
	return nil
}

func (f *fakeStore) GetMember(_ context.Context, memberID string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[memberID]
	if !ok {
		return store.Member{}, sql.ErrNoRows
	}
	return member, nil
}

func (f *fakeStore) GetMemberByEmail(_ context.Context, email string) (store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, member := range f.members {
		if member.Email == email {
			return member, nil
		}
	}
	return store.Member{}, sql.ErrNoRows
}

func (f *fakeStore) InsertMember(_ context.Context, member store.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[member.ID] = member
	return nil
}

func (f *fakeStore) CountMembersInScope(_ context.Context, orgID string, teamID *string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, member := range f.members {
		if member.OrgID != orgID {
			continue
		}
		if teamID != nil && (member.TeamID == nil || *member.TeamID != *teamID) {
			continue
		}
		count++
	}
	return count, nil
}

func (f *fakeStore) GetTheme(_ context.Context, themeID string) (store.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	theme, ok := f.themes[themeID]
	if !ok {
		return store.Theme{}, sql.ErrNoRows
	}
	return theme, nil
}

func (f *fakeStore) ListThemes(context.Context) ([]store.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	themes := make([]store.Theme, 0, len(f.themes))
	for _, theme := range f.themes {
		themes = append(themes, theme)
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].SortOrder < themes[j].SortOrder })
	return themes, nil
}

func (f *fakeStore) InsertTheme(_ context.Context, theme store.Theme) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.themes[theme.ID] = theme
	return nil
}

func (f *fakeStore) GetOverride(_ context.Context, orgID, themeID string, teamID *string) (*store.ThemeOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	override, ok := f.overrides[scopeKey(orgID, themeID, teamID)]
	if !ok {
		return nil, nil
	}
	copied := override
	return &copied, nil
}

func (f *fakeStore) ListOverrides(_ context.Context, orgID string) ([]store.ThemeOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	overrides := make([]store.ThemeOverride, 0)
	for _, override := range f.overrides {
		if override.OrgID == orgID {
			overrides = append(overrides, override)
		}
	}
	return overrides, nil
}

func (f *fakeStore) UpdateOverride(_ context.Context, override store.ThemeOverride) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(override.OrgID, override.ThemeID, override.TeamID)
	if _, ok := f.overrides[key]; !ok {
		return 0, nil
	}
	f.overrides[key] = override
	return 1, nil
}

func (f *fakeStore) InsertOverride(_ context.Context, override store.ThemeOverride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(override.OrgID, override.ThemeID, override.TeamID)
	if _, ok := f.overrides[key]; ok {
		return store.ErrDuplicate
	}
	f.overrides[key] = override
	return nil
}

func (f *fakeStore) InsertConversation(_ context.Context, conversation store.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertConversationErr; err != nil {
		f.insertConversationErr = nil
		if f.raceWinner != nil {
			f.conversations[f.raceWinner.ID] = *f.raceWinner
			f.raceWinner = nil
		}
		return err
	}
	for _, existing := range f.conversations {
		if existing.MemberID == conversation.MemberID &&
			existing.ThemeID == conversation.ThemeID &&
			existing.Period == conversation.Period &&
			existing.AnonymizedAt == nil {
			return store.ErrDuplicate
		}
	}
	f.conversations[conversation.ID] = conversation
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, conversationID string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[conversationID]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conversation, nil
}

func (f *fakeStore) FindPeriodConversation(_ context.Context, memberID, themeID, periodKey string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conversation := range f.conversations {
		if conversation.MemberID == memberID &&
			conversation.ThemeID == themeID &&
			conversation.Period == periodKey &&
			conversation.AnonymizedAt == nil {
			copied := conversation
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AppendEntry(_ context.Context, entry store.ConversationEntry) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.Sequence = len(f.entries[entry.ConversationID]) + 1
	entry.CreatedAt = time.Now()
	f.entries[entry.ConversationID] = append(f.entries[entry.ConversationID], entry)
	return entry.Sequence, nil
}

func (f *fakeStore) ListEntries(_ context.Context, conversationID string) ([]store.ConversationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ConversationEntry(nil), f.entries[conversationID]...), nil
}

func (f *fakeStore) CountAnswers(_ context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, entry := range f.entries[conversationID] {
		if entry.Kind == "fixed_question" || entry.Kind == "followup" {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CompleteConversation(_ context.Context, conversationID, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[conversationID]
	if !ok || conversation.Status != store.ConversationOpen {
		return false, nil
	}
	now := time.Now()
	conversation.Status = store.ConversationCompleted
	conversation.Reason = &reason
	conversation.EndedAt = &now
	conversation.NextQuestionRef = nil
	conversation.NextQuestion = nil
	f.conversations[conversationID] = conversation
	return true, nil
}

func (f *fakeStore) SetNextQuestion(_ context.Context, conversationID, questionRef, question string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversation, ok := f.conversations[conversationID]
	if !ok || conversation.Status != store.ConversationOpen {
		return false, nil
	}
	conversation.NextQuestionRef = &questionRef
	conversation.NextQuestion = &question
	f.conversations[conversationID] = conversation
	return true, nil
}

func (f *fakeStore) CompletedThemeIDs(_ context.Context, memberID, periodKey string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for _, conversation := range f.conversations {
		if conversation.MemberID == memberID &&
			conversation.Period == periodKey &&
			conversation.Status == store.ConversationCompleted &&
			conversation.AnonymizedAt == nil {
			ids = append(ids, conversation.ThemeID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ListCompletedForPeriod(_ context.Context, memberID, periodKey string) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversations := make([]store.Conversation, 0)
	for _, conversation := range f.conversations {
		if conversation.MemberID == memberID &&
			conversation.Period == periodKey &&
			conversation.Status == store.ConversationCompleted &&
			conversation.AnonymizedAt == nil {
			conversations = append(conversations, conversation)
		}
	}
	sort.Slice(conversations, func(i, j int) bool { return conversations[i].ID < conversations[j].ID })
	return conversations, nil
}

func (f *fakeStore) ConversationRound(_ context.Context, memberID, themeID string, startedAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	round := 0
	for _, conversation := range f.conversations {
		if conversation.MemberID == memberID &&
			conversation.ThemeID == themeID &&
			conversation.Status == store.ConversationCompleted &&
			!conversation.StartedAt.After(startedAt) {
			round++
		}
	}
	if round == 0 {
		round = 1
	}
	return round, nil
}

func (f *fakeStore) ListScopedCompleted(_ context.Context, orgID, themeID string, teamID *string, periodKey string) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conversations := make([]store.Conversation, 0)
	for _, conversation := range f.conversations {
		member, ok := f.members[conversation.MemberID]
		if !ok || member.OrgID != orgID {
			continue
		}
		if conversation.ThemeID != themeID || conversation.Period != periodKey {
			continue
		}
		if conversation.Status != store.ConversationCompleted || conversation.AnonymizedAt != nil {
			continue
		}
		if teamID != nil && (conversation.TeamID == nil || *conversation.TeamID != *teamID) {
			continue
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (f *fakeStore) CountMembersCompleted(_ context.Context, orgID, themeID string, teamID *string, periodKey string) (int, error) {
	conversations, err := f.ListScopedCompleted(context.Background(), orgID, themeID, teamID, periodKey)
	if err != nil {
		return 0, err
	}
	members := make(map[string]struct{})
	for _, conversation := range conversations {
		members[conversation.MemberID] = struct{}{}
	}
	return len(members), nil
}

func (f *fakeStore) UpdateResult(_ context.Context, conversationID string, patch store.ResultPatch) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[conversationID]
	if !ok {
		return 0, nil
	}
	now := time.Now()
	if patch.Summary != nil {
		result.Summary = patch.Summary
		result.SummaryGeneratedAt = &now
	}
	if patch.Score != nil {
		result.Score = patch.Score
	}
	if patch.Actions != nil {
		result.Actions = patch.Actions
		result.ActionsGeneratedAt = &now
	}
	result.UpdatedAt = now
	f.results[conversationID] = result
	return 1, nil
}

func (f *fakeStore) InsertResult(_ context.Context, row store.ConversationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.results[row.ConversationID]; ok {
		return store.ErrDuplicate
	}
	f.results[row.ConversationID] = row
	return nil
}

func (f *fakeStore) GetResult(_ context.Context, conversationID string) (store.ConversationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[conversationID]
	if !ok {
		return store.ConversationResult{}, sql.ErrNoRows
	}
	return result, nil
}

func (f *fakeStore) CountQualifyingMembers(_ context.Context, orgID, themeID string, teamID *string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make(map[string]struct{})
	for _, result := range f.results {
		if result.ThemeID != themeID {
			continue
		}
		if result.Summary == nil && result.Score == nil {
			continue
		}
		member, ok := f.members[result.MemberID]
		if !ok || member.OrgID != orgID {
			continue
		}
		conversation, ok := f.conversations[result.ConversationID]
		if !ok || conversation.AnonymizedAt != nil {
			continue
		}
		if teamID != nil && (conversation.TeamID == nil || *conversation.TeamID != *teamID) {
			continue
		}
		members[result.MemberID] = struct{}{}
	}
	return len(members), nil
}

func (f *fakeStore) ListScopedResults(_ context.Context, orgID, themeID string, teamID *string) ([]store.ConversationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]store.ConversationResult, 0)
	for _, result := range f.results {
		if result.ThemeID != themeID {
			continue
		}
		member, ok := f.members[result.MemberID]
		if !ok || member.OrgID != orgID {
			continue
		}
		conversation, ok := f.conversations[result.ConversationID]
		if !ok || conversation.AnonymizedAt != nil {
			continue
		}
		if teamID != nil && (conversation.TeamID == nil || *conversation.TeamID != *teamID) {
			continue
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ConversationID < results[j].ConversationID })
	return results, nil
}

func (f *fakeStore) UpdateInsight(_ context.Context, insight store.OrgInsight) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(insight.OrgID, insight.ThemeID, insight.TeamID)
	if _, ok := f.insights[key]; !ok {
		return 0, nil
	}
	f.insights[key] = insight
	return 1, nil
}

func (f *fakeStore) InsertInsight(_ context.Context, insight store.OrgInsight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(insight.OrgID, insight.ThemeID, insight.TeamID)
	if _, ok := f.insights[key]; ok {
		return store.ErrDuplicate
	}
	f.insights[key] = insight
	return nil
}

func (f *fakeStore) GetInsight(_ context.Context, orgID, themeID string, teamID *string) (*store.OrgInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	insight, ok := f.insights[scopeKey(orgID, themeID, teamID)]
	if !ok {
		return nil, nil
	}
	copied := insight
	return &copied, nil
}

func (f *fakeStore) UpdatePlan(_ context.Context, plan store.ActionPlan) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := plan.MemberID + "|" + plan.Period
	if _, ok := f.plans[key]; !ok {
		return 0, nil
	}
	f.plans[key] = plan
	return 1, nil
}

func (f *fakeStore) InsertPlan(_ context.Context, plan store.ActionPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := plan.MemberID + "|" + plan.Period
	if _, ok := f.plans[key]; ok {
		return store.ErrDuplicate
	}
	f.plans[key] = plan
	return nil
}

func (f *fakeStore) GetPlan(_ context.Context, memberID, periodKey string) (*store.ActionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[memberID+"|"+periodKey]
	if !ok {
		return nil, nil
	}
	copied := plan
	return &copied, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	mu   sync.Mutex
	data map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: map[string]session.TokenData{}}
}

func (f *fakeSessions) Save(_ context.Context, tokenHash string, data session.TokenData, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[tokenHash] = data
	return nil
}

func (f *fakeSessions) Lookup(_ context.Context, tokenHash string) (session.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[tokenHash]
	if !ok {
		return session.TokenData{}, session.ErrNotFound
	}
	return data, nil
}

func (f *fakeSessions) Revoke(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, tokenHash)
	return nil
}

// fakeCompletion answers gateway requests from function fields, with benign
// defaults so background summary/plan generation does not fail tests that do
// not care about it.
type fakeCompletion struct {
	followUp    func(req llm.FollowUpRequest) (llm.FollowUpDecision, error)
	summarize   func(req llm.SummarizeRequest) (llm.Summary, error)
	aggregate   func(req llm.AggregateRequest) (llm.Aggregate, error)
	planActions func(req llm.PlanRequest) ([]llm.PlanAction, error)
}

func (f *fakeCompletion) DecideFollowUp(_ context.Context, req llm.FollowUpRequest) (llm.FollowUpDecision, error) {
	if f.followUp != nil {
		return f.followUp(req)
	}
	return llm.FollowUpDecision{Continue: false, Rationale: "clear"}, nil
}

func (f *fakeCompletion) Summarize(_ context.Context, req llm.SummarizeRequest) (llm.Summary, error) {
	if f.summarize != nil {
		return f.summarize(req)
	}
	return llm.Summary{Summary: "stub summary", Score: 5}, nil
}

func (f *fakeCompletion) Aggregate(_ context.Context, req llm.AggregateRequest) (llm.Aggregate, error) {
	if f.aggregate != nil {
		return f.aggregate(req)
	}
	return llm.Aggregate{Summary: "stub aggregate", Advice: "stub advice"}, nil
}

func (f *fakeCompletion) PlanActions(_ context.Context, req llm.PlanRequest) ([]llm.PlanAction, error) {
	if f.planActions != nil {
		return f.planActions(req)
	}
	return []llm.PlanAction{
		{Rank: 1, Text: "first", Priority: "high", Rationale: "r"},
		{Rank: 2, Text: "second", Priority: "medium", Rationale: "r"},
		{Rank: 3, Text: "third", Priority: "low", Rationale: "r"},
	}, nil
}

type fakeScreener struct {
	check func(text string) (screening.Verdict, error)
}

func (f *fakeScreener) Check(_ context.Context, text string) (screening.Verdict, error) {
	if f.check != nil {
		return f.check(text)
	}
	return screening.Verdict{Allowed: true}, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string // recipient addresses
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) SendPlanReady(to, _, _ string, _ []email.PlanReadyAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeMailer) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeSearch struct {
	mu        sync.Mutex
	summaries []search.SummaryRecord
	insights  []search.InsightRecord
	plans     []search.PlanRecord
	queries   []search.Query
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexSummary(rec search.SummaryRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, rec)
}

func (f *fakeSearch) IndexInsight(rec search.InsightRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights = append(f.insights, rec)
}

func (f *fakeSearch) IndexPlan(rec search.PlanRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, rec)
}

func (f *fakeSearch) DeleteSummary(string) {}

// testEnv bundles the service under test with its fakes.
type testEnv struct {
	service    *Service
	store      *fakeStore
	sessions   *fakeSessions
	completion *fakeCompletion
	screener   *fakeScreener
	mailer     *fakeMailer
	search     *fakeSearch
}

func newTestEnv() *testEnv {
	st := newFakeStore()
	env := &testEnv{
		store:      st,
		sessions:   newFakeSessions(),
		completion: &fakeCompletion{},
		screener:   &fakeScreener{},
		mailer:     &fakeMailer{},
		search:     &fakeSearch{},
	}
	env.service = &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  24 * time.Hour,
			MaxAnswers:  10,
		},
		store:      st,
		access:     access.NewResolver(st),
		sessions:   env.sessions,
		creds:      &fakeCreds{store: st},
		completion: env.completion,
		screener:   env.screener,
		mail:       env.mailer,
		search:     env.search,
	}
	return env
}

type fakeCreds struct {
	store *fakeStore
}

func (f *fakeCreds) SignIn(ctx context.Context, email, password string) (store.Member, error) {
	member, err := f.store.GetMemberByEmail(ctx, email)
	if err != nil {
		return store.Member{}, authpw.ErrInvalidCredentials
	}
	if password != "good-password" {
		return store.Member{}, authpw.ErrInvalidCredentials
	}
	return member, nil
}

// seedOrg loads the standard test fixture: one active org whose every month
// is an active month, two teams, four members plus a super admin, and three
// themes (two open, one restricted).
func (env *testEnv) seedOrg() {
	ctx := context.Background()
	allMonths := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	_ = env.store.InsertOrganization(ctx, store.Organization{
		ID: "org_demo", Name: "Acme", ActiveMonths: allMonths, Active: true, AnonymizeAfterDays: 180,
	})
	_ = env.store.InsertTeam(ctx, store.Team{ID: "team_platform", OrgID: "org_demo", Name: "Platform"})
	_ = env.store.InsertTeam(ctx, store.Team{ID: "team_product", OrgID: "org_demo", Name: "Product"})

	platform := "team_platform"
	product := "team_product"
	members := []store.Member{
		{ID: "mbr_avery", OrgID: "org_demo", TeamID: &product, Email: "avery@acme.test", DisplayName: "Avery", Role: "org_admin"},
		{ID: "mbr_jamie", OrgID: "org_demo", TeamID: &platform, Email: "jamie@acme.test", DisplayName: "Jamie", Role: "member"},
		{ID: "mbr_marcus", OrgID: "org_demo", TeamID: &platform, Email: "marcus@acme.test", DisplayName: "Marcus", Role: "team_lead"},
		{ID: "mbr_sarah", OrgID: "org_demo", TeamID: &platform, Email: "sarah@acme.test", DisplayName: "Sarah", Role: "member"},
		{ID: "mbr_root", OrgID: "org_demo", Email: "root@acme.test", DisplayName: "Root", Role: "super_admin"},
	}
	for _, member := range members {
		_ = env.store.InsertMember(ctx, member)
	}

	themes := []store.Theme{
		{ID: "thm_workload", Name: "Workload", Visibility: "open", Ready: true, SortOrder: 1,
			Questions: []string{"How has your workload felt?", "What drained you most?"},
			Rubric:    "Score 1-10 on sustainable workload."},
		{ID: "thm_growth", Name: "Growth", Visibility: "open", Ready: true, SortOrder: 2,
			Questions: []string{"What did you learn this month?"},
			Rubric:    "Score 1-10 on growth."},
		{ID: "thm_leadership", Name: "Leadership", Visibility: "restricted", Ready: true, SortOrder: 3,
			Questions: []string{"How supported do you feel?"},
			Rubric:    "Score 1-10 on trust."},
	}
	for _, theme := range themes {
		_ = env.store.InsertTheme(ctx, theme)
	}
}

func (env *testEnv) sessionFor(memberID string) Session {
	member := env.store.members[memberID]
	return Session{
		MemberID:    member.ID,
		DisplayName: member.DisplayName,
		Role:        member.Role,
		OrgID:       member.OrgID,
		TeamID:      member.TeamID,
		ExpiresAt:   time.Now().Add(15 * time.Minute),
	}
}
