package hallucination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
)

const ensemblePrompt = `You are checking an assistant's answer for unsupported or invented facts.
Question: %s
Answer: %s
Reply with JSON only: {"confidence": <0.0-1.0 that the answer is accurate>, "assessment": "<one sentence>", "issues": ["<problem>", ...]}`

type verdictBody struct {
	Confidence float64  `json:"confidence"`
	Assessment string   `json:"assessment"`
	Issues     []string `json:"issues"`
}

// parseVerdict extracts the first JSON object in text.
func parseVerdict(text string) (verdictBody, error) {
	var body verdictBody
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return body, fmt.Errorf("no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &body); err != nil {
		return body, fmt.Errorf("decode model reply: %w", err)
	}
	if body.Confidence < 0 || body.Confidence > 1 {
		return body, fmt.Errorf("confidence %v out of range", body.Confidence)
	}
	return body, nil
}

// WeightedConfidence is Σ(conf·w)/Σw over verdicts without an error. With zero total weight the
// plain mean is used. ok is false when no verdict succeeded.
func WeightedConfidence(verdicts []models.ModelVerdict) (float64, bool) {
	var sum, weights, plain float64
	n := 0
	for _, v := range verdicts {
		if v.Error != "" {
			continue
		}
		sum += v.Confidence * v.Weight
		weights += v.Weight
		plain += v.Confidence
		n++
	}
	switch {
	case n == 0:
		return 0, false
	case weights <= 0:
		return plain / float64(n), true
	default:
		return sum / weights, true
	}
}

func (v *Validator) askModel(ctx context.Context, m models.CrossValidationModelConfig, query, response string) models.ModelVerdict {
	verdict := models.ModelVerdict{Name: m.Name, Model: m.ModelID, Weight: m.Weight}

	cctx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()
	gen, err := v.gen.Generate(cctx, m.ModelID, fmt.Sprintf(ensemblePrompt, query, response), llm.GenerateOptions{
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
		Endpoint:    m.Endpoint,
	})
	if err != nil {
		verdict.Error = err.Error()
		return verdict
	}
	body, err := parseVerdict(gen.Text)
	if err != nil {
		verdict.Error = err.Error()
		return verdict
	}
	verdict.Confidence = body.Confidence
	verdict.Assessment = body.Assessment
	verdict.Issues = body.Issues
	if m.MinConfidence > 0 && body.Confidence < m.MinConfidence {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("below %s minimum confidence %.2f", m.Name, m.MinConfidence))
	}
	return verdict
}

// runEnsemble asks every validation model concurrently and combines their confidences.
func (v *Validator) runEnsemble(ctx context.Context, ms []models.CrossValidationModelConfig, query, response string, reasons []string, threshold float64) models.EnsembleDetail {
	detail := models.EnsembleDetail{Reasons: reasons, Threshold: threshold}
	if len(ms) == 0 || v.gen == nil {
		detail.Confidence = DefaultEnsembleConfidence
		return detail
	}

	detail.Ran = true
	verdicts := make([]models.ModelVerdict, len(ms))
	var wg sync.WaitGroup
	for i, m := range ms {
		wg.Add(1)
		go func(i int, m models.CrossValidationModelConfig) {
			defer wg.Done()
			verdicts[i] = v.askModel(ctx, m, query, response)
		}(i, m)
	}
	wg.Wait()
	detail.Models = verdicts

	conf, ok := WeightedConfidence(verdicts)
	if !ok {
		detail.CouldNotValidate = true
		detail.Confidence = NeutralConfidence
		v.log.Warn("ensemble could not validate", map[string]interface{}{"models": len(ms)})
		return detail
	}
	detail.Confidence = conf
	return detail
}
