// Package screening checks free-text answers for personal data before they
// are persisted. A remote screening service does the real work; when it is
// unreachable a local heuristic stands in so answers are not lost, erring on
// the side of letting text through.
package screening

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-resty/resty/v2"
)

// Finding is one rule evaluation from the screening service. Satisfies is
// false when the text violates the rule.
type Finding struct {
	Satisfies bool     `json:"satisfies"`
	Labels    []string `json:"labels"`
	Reason    string   `json:"reason"`
	Article   string   `json:"article"`
}

// Verdict is what callers act on.
type Verdict struct {
	Allowed  bool
	Findings []Finding
}

type Screener struct {
	client *resty.Client
	logger *log.Logger
}

func New(baseURL string, timeout time.Duration, logger *log.Logger) *Screener {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Screener{client: client, logger: logger}
}

type screenRequest struct {
	Text string `json:"text"`
}

type screenResponse struct {
	Findings []Finding `json:"findings"`
}

// Check screens an answer. Any finding with satisfies=false blocks the text.
// When the service cannot be reached the local heuristic decides instead.
func (s *Screener) Check(ctx context.Context, text string) (Verdict, error) {
	var body screenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(screenRequest{Text: text}).
		SetResult(&body).
		Post("/v1/screen")
	if err != nil {
		s.logger.Printf("screening service unreachable, using local heuristic: %v", err)
		return s.local(text), nil
	}
	if resp.StatusCode() != http.StatusOK {
		s.logger.Printf("screening service returned status %d, using local heuristic", resp.StatusCode())
		return s.local(text), nil
	}

	verdict := Verdict{Allowed: true, Findings: body.Findings}
	for _, finding := range body.Findings {
		if !finding.Satisfies {
			verdict.Allowed = false
		}
	}
	return verdict, nil
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9 \-]{7,}[0-9]`)
)

// local is the fallback heuristic: catch the obvious identifiers, allow the
// rest.
func (s *Screener) local(text string) Verdict {
	var findings []Finding
	if emailPattern.MatchString(text) {
		findings = append(findings, Finding{
			Satisfies: false,
			Labels:    []string{"email_address"},
			Reason:    "text contains an email address",
		})
	}
	if phonePattern.MatchString(text) {
		findings = append(findings, Finding{
			Satisfies: false,
			Labels:    []string{"phone_number"},
			Reason:    "text contains a phone number",
		})
	}
	return Verdict{Allowed: len(findings) == 0, Findings: findings}
}

// BlockedMessage renders the reasons findings give for rejecting an answer.
func BlockedMessage(findings []Finding) string {
	for _, finding := range findings {
		if !finding.Satisfies && finding.Reason != "" {
			return fmt.Sprintf("answer rejected: %s", finding.Reason)
		}
	}
	return "answer rejected: contains personal data"
}
