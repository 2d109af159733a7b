package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "pulse@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "pulse@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "pulse@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderPlanReadyTemplate(t *testing.T) {
	data := PlanReadyData{
		AppName:    "Pulse",
		MemberName: "Jamie",
		Period:     "2026-06",
		Actions: []PlanReadyAction{
			{Rank: 1, Text: "Block two hours of focus time each morning", Priority: "high"},
			{Rank: 2, Text: "Raise the on-call load at the next team retro", Priority: "medium"},
			{Rank: 3, Text: "Schedule a growth conversation with your lead", Priority: "low"},
		},
	}

	html, err := renderTemplate(planReadyEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Pulse") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Jamie") {
		t.Error("template should contain member name")
	}
	if !strings.Contains(html, "2026-06") {
		t.Error("template should contain the period")
	}
	for _, action := range data.Actions {
		if !strings.Contains(html, action.Text) {
			t.Errorf("template should contain action %q", action.Text)
		}
	}
	if !strings.Contains(html, "high") {
		t.Error("template should contain action priorities")
	}
}
