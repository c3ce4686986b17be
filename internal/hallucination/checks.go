package hallucination

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// triggered reports whether the query contains any trigger substring; no triggers means always.
func triggered(cfg *models.RequiredElementsConfig, query string) bool {
	if len(cfg.TriggerKeywords) == 0 {
		return true
	}
	q := strings.ToLower(query)
	for _, kw := range cfg.TriggerKeywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func hasRequired(cfg *models.RequiredElementsConfig, response string) bool {
	patterns := cfg.Compiled()
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.MatchString(response) {
			return true
		}
	}
	return false
}

// checkRequired returns the failure reason, "" on pass, and whether the rule applied at all.
func checkRequired(rule models.HallucinationCheckRule, query, response string) (string, bool) {
	cfg := rule.RequiredElements
	if cfg == nil || !triggered(cfg, query) {
		return "", false
	}
	if hasRequired(cfg, response) {
		return "", true
	}
	return fmt.Sprintf("response is missing a required element for %s", rule.Name), true
}

func numbers(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range numberPattern.FindAllString(text, -1) {
		if strings.Contains(n, ".") {
			n = strings.TrimSuffix(strings.TrimRight(n, "0"), ".")
		}
		out[n] = struct{}{}
	}
	return out
}

// checkNumbers fails when the query has numbers and the response shares none of them.
func checkNumbers(query, response string) (string, bool) {
	qn := numbers(query)
	if len(qn) == 0 {
		return "", false
	}
	rn := numbers(response)
	for n := range qn {
		if _, ok := rn[n]; ok {
			return "", true
		}
	}
	return "numbers in the response do not match the numbers in the query", true
}

func fillTemplate(tmpl, reason, query, response string) string {
	if tmpl == "" {
		tmpl = defaultFixTemplate
	}
	return strings.NewReplacer(
		"{reason}", reason,
		"{query}", query,
		"{response}", response,
	).Replace(tmpl)
}

// autoFix asks the fix model to rewrite response and keeps the rewrite only if it passes rule.
// Failures are swallowed; the caller keeps the original response.
func (v *Validator) autoFix(ctx context.Context, rule models.HallucinationCheckRule, reason, query, response string) (string, bool) {
	if v.gen == nil || v.fixModel == "" {
		return "", false
	}
	gen, err := v.gen.Generate(ctx, v.fixModel, fillTemplate(rule.FixTemplate, reason, query, response), llm.GenerateOptions{})
	if err != nil {
		v.log.Warn("auto-fix failed", map[string]interface{}{
			"rule":  rule.Name,
			"error": err.Error(),
		})
		return "", false
	}
	fixed := strings.TrimSpace(gen.Text)
	if fixed == "" {
		return "", false
	}
	if again, _ := checkRequired(rule, query, fixed); again != "" {
		v.log.Info("auto-fix did not satisfy rule", map[string]interface{}{"rule": rule.Name})
		return "", false
	}
	return fixed, true
}
