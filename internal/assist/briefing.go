// Package assist generates short natural-language coach briefings for
// critical alerts. The briefing is attached to the alert as plain text and
// never participates in any scoring or escalation decision.
package assist

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/boxpulse/retention/pkg/models"
)

// Config represents the briefing service configuration.
type Config struct {
	Enabled      bool   `yaml:"enabled"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	Model        string `yaml:"model"`
}

// DefaultConfig returns default briefing configuration. Disabled by default;
// the feature needs an API key to be useful.
func DefaultConfig() Config {
	return Config{Model: "gpt-4o-mini"}
}

// Service generates coach briefings via the OpenAI chat API.
type Service struct {
	client *openai.Client
	config Config
}

// NewService creates a new briefing service.
func NewService(config Config) *Service {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	return &Service{
		client: openai.NewClient(config.OpenAIAPIKey),
		config: config,
	}
}

// BriefingFor generates a two-to-three sentence briefing telling the coach
// what changed for the member and what to do first.
func (s *Service) BriefingFor(ctx context.Context, alert models.Alert) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a retention assistant for a fitness studio. Write a brief, practical note for a coach about an at-risk member. Two to three sentences, no preamble, no member names.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(alert),
			},
		},
		Temperature: 0.4,
		MaxTokens:   200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate briefing: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("briefing response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildPrompt(alert models.Alert) string {
	var b strings.Builder
	td := alert.TriggerData

	fmt.Fprintf(&b, "Alert: %s (%s severity)\n", alert.Type, alert.Severity)
	fmt.Fprintf(&b, "Summary: %s\n", alert.Description)
	fmt.Fprintf(&b, "Overall risk score: %.1f/100, churn probability %.0f%%\n", td.OverallRiskScore, td.ChurnProbability*100)
	fmt.Fprintf(&b, "Component scores: attendance %.0f, wellness %.0f, performance %.0f, engagement %.0f\n",
		td.AttendanceScore, td.WellnessScore, td.PerformanceScore, td.EngagementScore)
	if td.DaysSinceLastVisit != nil {
		fmt.Fprintf(&b, "Days since last visit: %d\n", *td.DaysSinceLastVisit)
	}
	if td.DaysSinceLastCheckin != nil {
		fmt.Fprintf(&b, "Days since last check-in: %d\n", *td.DaysSinceLastCheckin)
	}
	if len(alert.SuggestedActions.Immediate) > 0 {
		fmt.Fprintf(&b, "Playbook actions: %s\n", strings.Join(alert.SuggestedActions.Immediate, "; "))
	}
	return b.String()
}
