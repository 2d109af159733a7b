package app

import (
	"context"
	"log"
	"time"

	"pulse/api/internal/access"
	"pulse/api/internal/auth"
	"pulse/api/internal/authpw"
	"pulse/api/internal/config"
	"pulse/api/internal/email"
	"pulse/api/internal/llm"
	"pulse/api/internal/rbac"
	"pulse/api/internal/screening"
	"pulse/api/internal/search"
	"pulse/api/internal/session"
	"pulse/api/internal/store"
	"pulse/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	MemberID     string
	DisplayName  string
	Role         string
	OrgID        string
	TeamID       *string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	ListOrganizations(ctx context.Context) ([]store.Organization, error)
	InsertOrganization(ctx context.Context, org store.Organization) error
	GetTeam(ctx context.Context, teamID string) (store.Team, error)
	InsertTeam(ctx context.Context, team store.Team) error
	GetMember(ctx context.Context, memberID string) (store.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (store.Member, error)
	InsertMember(ctx context.Context, member store.Member) error
	CountMembersInScope(ctx context.Context, orgID string, teamID *string) (int, error)
	GetTheme(ctx context.Context, themeID string) (store.Theme, error)
	ListThemes(ctx context.Context) ([]store.Theme, error)
	InsertTheme(ctx context.Context, theme store.Theme) error
	GetOverride(ctx context.Context, orgID, themeID string, teamID *string) (*store.ThemeOverride, error)
	ListOverrides(ctx context.Context, orgID string) ([]store.ThemeOverride, error)
	UpdateOverride(ctx context.Context, override store.ThemeOverride) (int64, error)
	InsertOverride(ctx context.Context, override store.ThemeOverride) error

	InsertConversation(ctx context.Context, conversation store.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	FindPeriodConversation(ctx context.Context, memberID, themeID, periodKey string) (*store.Conversation, error)
	AppendEntry(ctx context.Context, entry store.ConversationEntry) (int, error)
	ListEntries(ctx context.Context, conversationID string) ([]store.ConversationEntry, error)
	CountAnswers(ctx context.Context, conversationID string) (int, error)
	CompleteConversation(ctx context.Context, conversationID, reason string) (bool, error)
	SetNextQuestion(ctx context.Context, conversationID, questionRef, question string) (bool, error)
	CompletedThemeIDs(ctx context.Context, memberID, periodKey string) ([]string, error)
	ListCompletedForPeriod(ctx context.Context, memberID, periodKey string) ([]store.Conversation, error)
	ConversationRound(ctx context.Context, memberID, themeID string, startedAt time.Time) (int, error)
	ListScopedCompleted(ctx context.Context, orgID, themeID string, teamID *string, periodKey string) ([]store.Conversation, error)
	CountMembersCompleted(ctx context.Context, orgID, themeID string, teamID *string, periodKey string) (int, error)

	UpdateResult(ctx context.Context, conversationID string, patch store.ResultPatch) (int64, error)
	InsertResult(ctx context.Context, row store.ConversationResult) error
	GetResult(ctx context.Context, conversationID string) (store.ConversationResult, error)
	CountQualifyingMembers(ctx context.Context, orgID, themeID string, teamID *string) (int, error)
	ListScopedResults(ctx context.Context, orgID, themeID string, teamID *string) ([]store.ConversationResult, error)

	UpdateInsight(ctx context.Context, insight store.OrgInsight) (int64, error)
	InsertInsight(ctx context.Context, insight store.OrgInsight) error
	GetInsight(ctx context.Context, orgID, themeID string, teamID *string) (*store.OrgInsight, error)

	UpdatePlan(ctx context.Context, plan store.ActionPlan) (int64, error)
	InsertPlan(ctx context.Context, plan store.ActionPlan) error
	GetPlan(ctx context.Context, memberID, periodKey string) (*store.ActionPlan, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.TokenData, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type credentialChecker interface {
	SignIn(ctx context.Context, email, password string) (store.Member, error)
}

type completionClient interface {
	DecideFollowUp(ctx context.Context, req llm.FollowUpRequest) (llm.FollowUpDecision, error)
	Summarize(ctx context.Context, req llm.SummarizeRequest) (llm.Summary, error)
	Aggregate(ctx context.Context, req llm.AggregateRequest) (llm.Aggregate, error)
	PlanActions(ctx context.Context, req llm.PlanRequest) ([]llm.PlanAction, error)
}

type answerScreener interface {
	Check(ctx context.Context, text string) (screening.Verdict, error)
}

type planMailer interface {
	IsConfigured() bool
	SendPlanReady(to, memberName, period string, actions []email.PlanReadyAction) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexSummary(rec search.SummaryRecord)
	IndexInsight(rec search.InsightRecord)
	IndexPlan(rec search.PlanRecord)
	DeleteSummary(id string)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	access     *access.Resolver
	sessions   sessionStore
	creds      credentialChecker
	completion completionClient
	screener   answerScreener
	mail       planMailer
	search     searchIndex
}

func New(cfg config.Config, st *store.PostgresStore, sessions *session.RedisStore, completion *llm.Client, screener *screening.Screener, mail *email.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:        cfg,
		store:      st,
		sessions:   sessions,
		creds:      authpw.NewService(st),
		completion: completion,
		screener:   screener,
	}
	s.access = access.NewResolver(st)
	if mail != nil {
		s.mail = mail
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	member, err := s.creds.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, member)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.Lookup(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.Revoke(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	member, err := s.store.GetMember(ctx, data.MemberID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, member)
}

func (s *Service) issueSession(ctx context.Context, member store.Member) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  member.ID,
		Name: member.DisplayName,
		Role: member.Role,
		Org:  member.OrgID,
		Team: member.TeamID,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), session.TokenData{
		MemberID:    member.ID,
		OrgID:       member.OrgID,
		TeamID:      member.TeamID,
		DisplayName: member.DisplayName,
		Role:        member.Role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		MemberID:     member.ID,
		DisplayName:  member.DisplayName,
		Role:         member.Role,
		OrgID:        member.OrgID,
		TeamID:       member.TeamID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:       token,
		MemberID:    claims.Sub,
		DisplayName: claims.Name,
		Role:        claims.Role,
		OrgID:       claims.Org,
		TeamID:      claims.Team,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) actor(sess Session) rbac.Actor {
	return rbac.Actor{
		MemberID: sess.MemberID,
		OrgID:    sess.OrgID,
		TeamID:   sess.TeamID,
		Role:     rbac.Normalize(sess.Role),
	}
}

// SearchScoped runs a search bounded to the caller's visibility.
func (s *Service) SearchScoped(sess Session, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	q.MemberID = sess.MemberID
	q.OrgID = sess.OrgID
	q.TeamKey = ""
	if sess.TeamID != nil {
		q.TeamKey = *sess.TeamID
	}
	role := rbac.Normalize(sess.Role)
	q.OrgWide = role == rbac.RoleOrgAdmin || role == rbac.RoleSuperAdmin
	return s.search.Search(q)
}

// Bootstrap seeds a demo organization on an empty database so the API is
// usable immediately after first start.
func (s *Service) Bootstrap(ctx context.Context) error {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	if len(orgs) > 0 {
		return nil
	}

	org := store.Organization{
		ID:                 "org_demo",
		Name:               "Acme",
		ActiveMonths:       []int{3, 6, 9, 12},
		Mandatory:          false,
		Active:             true,
		AnonymizeAfterDays: 180,
		Description:        "Demo organization",
	}
	if err := s.store.InsertOrganization(ctx, org); err != nil {
		return err
	}

	teams := []store.Team{
		{ID: "team_platform", OrgID: org.ID, Name: "Platform"},
		{ID: "team_product", OrgID: org.ID, Name: "Product"},
	}
	for _, team := range teams {
		if err := s.store.InsertTeam(ctx, team); err != nil {
			return err
		}
	}

	passwordHash, err := authpw.HashPassword("pulse-demo-pass")
	if err != nil {
		return err
	}
	platform := teams[0].ID
	product := teams[1].ID
	members := []store.Member{
		{ID: "mbr_avery", OrgID: org.ID, TeamID: &platform, Email: "avery@example.com", DisplayName: "Avery", PasswordHash: passwordHash, Role: "org_admin"},
		{ID: "mbr_jamie", OrgID: org.ID, TeamID: &platform, Email: "jamie@example.com", DisplayName: "Jamie", PasswordHash: passwordHash, Role: "member"},
		{ID: "mbr_marcus", OrgID: org.ID, TeamID: &product, Email: "marcus@example.com", DisplayName: "Marcus", PasswordHash: passwordHash, Role: "team_lead"},
		{ID: "mbr_sarah", OrgID: org.ID, TeamID: &product, Email: "sarah@example.com", DisplayName: "Sarah", PasswordHash: passwordHash, Role: "member"},
		{ID: "mbr_root", OrgID: org.ID, Email: "root@example.com", DisplayName: "Root", PasswordHash: passwordHash, Role: "super_admin"},
	}
	for _, member := range members {
		if err := s.store.InsertMember(ctx, member); err != nil {
			return err
		}
	}

	themes := []store.Theme{
		{
			ID: "thm_workload", Name: "Workload & Energy", Visibility: "open", Ready: true, SortOrder: 1,
			Questions: []string{
				"How has your workload felt over the past month?",
				"What part of your work drained you the most?",
				"What gave you energy at work recently?",
			},
			Rubric: "Score 1-10 on sustainable workload: 1 is constant overload, 10 is a comfortable sustainable pace.",
		},
		{
			ID: "thm_growth", Name: "Growth & Learning", Visibility: "open", Ready: true, SortOrder: 2,
			Questions: []string{
				"What did you learn this month that you want to build on?",
				"Where do you feel your growth is blocked?",
			},
			Rubric: "Score 1-10 on growth: 1 is fully stalled, 10 is learning at the pace the member wants.",
		},
		{
			ID: "thm_collab", Name: "Collaboration", Visibility: "open", Ready: true, SortOrder: 3,
			Questions: []string{
				"How well has collaboration within your team worked lately?",
				"Describe one recent moment where working together went notably well or badly.",
			},
			Rubric: "Score 1-10 on collaboration quality: 1 is constant friction, 10 is effortless teamwork.",
		},
		{
			ID: "thm_leadership", Name: "Leadership Trust", Visibility: "restricted", Ready: true, SortOrder: 4,
			Questions: []string{
				"How supported do you feel by leadership right now?",
				"What is one decision from leadership you wish had gone differently?",
			},
			Rubric: "Score 1-10 on trust in leadership: 1 is no trust, 10 is full confidence.",
		},
		{
			ID: "thm_safety", Name: "Psychological Safety", Visibility: "open", Ready: false, SortOrder: 5,
			Questions: []string{
				"When did you last hold back an opinion at work, and why?",
			},
			Rubric: "Score 1-10 on safety to speak up.",
		},
	}
	for _, theme := range themes {
		if err := s.store.InsertTheme(ctx, theme); err != nil {
			return err
		}
	}

	log.Printf("bootstrap: seeded org %s with %d teams, %d members, %d themes", org.ID, len(teams), len(members), len(themes))
	return nil
}
