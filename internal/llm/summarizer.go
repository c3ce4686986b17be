package llm

import (
	"context"
	"fmt"
	"strings"
)

const summarizePrompt = "Combine these answers into one short spoken reply. Keep every fact, drop repetition.\n\n%s\n\nReply:"

// Summarizer adapts a Router to the multi-intent summarize strategy.
type Summarizer struct {
	router *Router
	model  string
}

func NewSummarizer(router *Router, model string) *Summarizer {
	return &Summarizer{router: router, model: model}
}

func (s *Summarizer) Summarize(ctx context.Context, responses []string) (string, error) {
	var b strings.Builder
	for i, r := range responses {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	gen, err := s.router.Generate(ctx, s.model, fmt.Sprintf(summarizePrompt, b.String()), GenerateOptions{})
	if err != nil {
		return "", err
	}
	if gen.Text == "" {
		return "", fmt.Errorf("summarizer returned empty text")
	}
	return gen.Text, nil
}
