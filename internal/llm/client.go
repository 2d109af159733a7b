// Package llm talks to the completion gateway that powers follow-up
// decisions, conversation summaries, insight aggregation, and action plans.
//
// Responses are validated against the contracts below before they are used.
// A malformed response is reported as ErrContract so callers can decide
// whether to fail the request or substitute a fallback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrContract reports a gateway response that violates its schema.
var ErrContract = errors.New("completion response violates contract")

// ErrUnavailable reports that the gateway could not be reached.
var ErrUnavailable = errors.New("completion gateway unavailable")

type Client struct {
	client *resty.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

// Exchange is one question/answer pair of a conversation, in order.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FollowUpRequest asks whether a conversation needs another question.
type FollowUpRequest struct {
	ThemeName string     `json:"theme_name"`
	Rubric    string     `json:"rubric"`
	Exchanges []Exchange `json:"exchanges"`
}

// FollowUpDecision is the gateway's verdict. When Continue is true,
// NextQuestion carries the follow-up to ask.
type FollowUpDecision struct {
	Continue     bool
	NextQuestion string
	Rationale    string
}

type followUpResponse struct {
	Continue     *bool   `json:"continue"`
	NextQuestion *string `json:"next_question"`
	Rationale    *string `json:"rationale"`
}

func (c *Client) DecideFollowUp(ctx context.Context, req FollowUpRequest) (FollowUpDecision, error) {
	var body followUpResponse
	if err := c.post(ctx, "/v1/follow-up", req, &body); err != nil {
		return FollowUpDecision{}, err
	}
	if body.Continue == nil {
		return FollowUpDecision{}, fmt.Errorf("%w: missing continue", ErrContract)
	}
	if body.Rationale == nil || *body.Rationale == "" {
		return FollowUpDecision{}, fmt.Errorf("%w: missing rationale", ErrContract)
	}
	decision := FollowUpDecision{Continue: *body.Continue, Rationale: *body.Rationale}
	if decision.Continue {
		if body.NextQuestion == nil || *body.NextQuestion == "" {
			return FollowUpDecision{}, fmt.Errorf("%w: continue without next_question", ErrContract)
		}
		decision.NextQuestion = *body.NextQuestion
	}
	return decision, nil
}

// SummarizeRequest asks for a summary and score of a completed conversation.
type SummarizeRequest struct {
	ThemeName string     `json:"theme_name"`
	Rubric    string     `json:"rubric"`
	Exchanges []Exchange `json:"exchanges"`
}

type Summary struct {
	Summary string
	Score   int
}

type summarizeResponse struct {
	Summary *string `json:"summary"`
	Score   *int    `json:"score"`
}

func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	var body summarizeResponse
	if err := c.post(ctx, "/v1/summarize", req, &body); err != nil {
		return Summary{}, err
	}
	if body.Summary == nil || *body.Summary == "" {
		return Summary{}, fmt.Errorf("%w: missing summary", ErrContract)
	}
	if body.Score == nil || *body.Score < 1 || *body.Score > 10 {
		return Summary{}, fmt.Errorf("%w: score outside 1..10", ErrContract)
	}
	return Summary{Summary: *body.Summary, Score: *body.Score}, nil
}

// AggregateRequest asks for an organization-level rollup of member summaries.
type AggregateRequest struct {
	ThemeName string   `json:"theme_name"`
	Summaries []string `json:"summaries"`
}

type Aggregate struct {
	Summary     string
	Advice      string
	SignalWords []string
}

type aggregateResponse struct {
	Summary     *string  `json:"summary"`
	Advice      *string  `json:"advice"`
	SignalWords []string `json:"signal_words"`
}

func (c *Client) Aggregate(ctx context.Context, req AggregateRequest) (Aggregate, error) {
	var body aggregateResponse
	if err := c.post(ctx, "/v1/aggregate", req, &body); err != nil {
		return Aggregate{}, err
	}
	if body.Summary == nil || *body.Summary == "" {
		return Aggregate{}, fmt.Errorf("%w: missing summary", ErrContract)
	}
	if body.Advice == nil || *body.Advice == "" {
		return Aggregate{}, fmt.Errorf("%w: missing advice", ErrContract)
	}
	return Aggregate{
		Summary:     *body.Summary,
		Advice:      *body.Advice,
		SignalWords: body.SignalWords,
	}, nil
}

// PlanRequest asks for a personal action plan from a member's completed
// conversations in a period.
type PlanRequest struct {
	MemberName string       `json:"member_name"`
	Period     string       `json:"period"`
	Sources    []PlanSource `json:"sources"`
}

type PlanSource struct {
	ThemeName string   `json:"theme_name"`
	Summary   string   `json:"summary"`
	Actions   []string `json:"actions,omitempty"`
}

type PlanAction struct {
	Rank      int    `json:"rank"`
	Text      string `json:"text"`
	Priority  string `json:"priority"`
	Rationale string `json:"rationale"`
}

type planResponse struct {
	Actions []PlanAction `json:"actions"`
}

func (c *Client) PlanActions(ctx context.Context, req PlanRequest) ([]PlanAction, error) {
	var body planResponse
	if err := c.post(ctx, "/v1/plan", req, &body); err != nil {
		return nil, err
	}
	if len(body.Actions) != 3 {
		return nil, fmt.Errorf("%w: expected 3 actions, got %d", ErrContract, len(body.Actions))
	}
	for i, action := range body.Actions {
		if action.Rank != i+1 {
			return nil, fmt.Errorf("%w: action %d has rank %d", ErrContract, i+1, action.Rank)
		}
		if action.Text == "" || action.Priority == "" || action.Rationale == "" {
			return nil, fmt.Errorf("%w: action %d missing fields", ErrContract, i+1)
		}
	}
	return body.Actions, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(result).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("completion gateway returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
