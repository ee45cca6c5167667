package chat

import (
	"context"
	"strings"
	"time"
)

// Mock answers from a small canned corpus so the client can be exercised
// without a running backend. Enabled with base URL "mock://".
type Mock struct {
	Delay time.Duration
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Ask(ctx context.Context, message, mode string) (*Reply, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	answer, citations := cannedAnswer(message)
	if mode == "" {
		mode = "scholar"
	}
	return &Reply{
		Response:       answer,
		Citations:      citations,
		GenerationTime: 0.01,
		ModelUsed:      "mock",
		Mode:           mode,
	}, nil
}

func (m *Mock) Health(ctx context.Context) error {
	return nil
}

func (m *Mock) Examples(ctx context.Context) ([]string, error) {
	return defaultExamples(), nil
}

func cannedAnswer(message string) (string, []string) {
	q := strings.ToLower(message)
	switch {
	case strings.Contains(q, "dharma"):
		return "Dharma is one's rightful duty. Krishna tells Arjuna that it is better to perform one's own dharma imperfectly than another's dharma perfectly.",
			[]string{"BG 3.35", "BG 18.47"}

	case strings.Contains(q, "karma"):
		return "Karma yoga is the discipline of action without attachment to results. You have a right to your actions alone, never to their fruits.",
			[]string{"BG 2.47", "BG 3.19"}

	case strings.Contains(q, "meditat") || strings.Contains(q, "dhyana"):
		return "The sixth chapter describes meditation: seated steadily, mind fixed on a single point, the yogi finds the self by the self.",
			[]string{"BG 6.11", "BG 6.12", "BG 6.26"}

	case strings.Contains(q, "soul") || strings.Contains(q, "atman"):
		return "The soul is never born and never dies. Weapons cannot cut it, fire cannot burn it, water cannot wet it, wind cannot wither it.",
			[]string{"BG 2.20", "BG 2.23"}

	case strings.Contains(q, "arjuna"):
		return "Arjuna is the warrior prince whose crisis of conscience on the battlefield of Kurukshetra frames the whole dialogue.",
			[]string{"BG 1.28", "BG 1.47"}

	default:
		return "The Bhagavad Gita teaches that steady wisdom comes from acting without attachment and keeping the mind even in success and failure.",
			[]string{"BG 2.48"}
	}
}

func defaultExamples() []string {
	return []string{
		"What is dharma?",
		"Explain karma yoga",
		"What does the Gita say about meditation?",
		"What is the nature of the soul?",
		"Why was Arjuna reluctant to fight?",
	}
}
