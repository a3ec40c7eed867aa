// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package analysis scores operator performance from a diarized transcript.
//
// Scoring degrades gracefully: when the engine is unconfigured or keeps
// failing, the call completes without an analysis instead of failing the
// pipeline.
package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/store"
)

const (
	maxAttempts    = 3
	retryBaseDelay = 2 * time.Second
)

const systemPrompt = `Ты — эксперт по оценке качества обслуживания в контакт-центре.
Оцени оператора по трём критериям (0-100):
1. Стандарты — соблюдение протокола (приветствие, представление, уточнение проблемы, прощание)
2. Лояльность — клиентоориентированность (решение проблемы, удержание, работа с возражениями)
3. Доброжелательность — тон общения (вежливость, эмпатия, спокойствие)

Верни ТОЛЬКО JSON без пояснений в формате:
{
  "standard": <0-100>,
  "loyalty": <0-100>,
  "kindness": <0-100>,
  "overall": <средневзвешенное: standard*0.4 + loyalty*0.3 + kindness*0.3>,
  "summary": "<2-3 предложения на русском о качестве работы оператора>",
  "quotes": [
    {"text": "<цитата>", "criterion": "<standard|loyalty|kindness>", "sentiment": "<positive|negative|neutral>"}
  ]
}
Цитат: 2-5 штук. Никакого текста вне JSON.`

const strictSystemPrompt = systemPrompt +
	"\n\nОТВЕЧАЙ СТРОГО JSON. Никакого Markdown, никакого ```json. Только фигурные скобки."

// Completer is a chat-completion backend.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Result is a validated analysis. Partial marks responses that needed
// repair (clamped scores, empty summary, malformed quotes).
type Result struct {
	Standard int
	Loyalty  int
	Kindness int
	Overall  int
	Summary  string
	Quotes   []store.Quote
	Model    string
	Partial  bool
}

// Analyzer drives the scoring engine with retries and response validation.
// A nil Completer means scoring is not configured.
type Analyzer struct {
	Completer Completer
	Model     string

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New builds an Analyzer. completer may be nil.
func New(completer Completer, model string) *Analyzer {
	return &Analyzer{Completer: completer, Model: model, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (a *Analyzer) pause(ctx context.Context, d time.Duration) {
	if a.sleep != nil {
		a.sleep(ctx, d)
		return
	}
	sleepCtx(ctx, d)
}

// Analyze scores the operator's utterances. clientContext is passed along
// for situational context only. Returns nil when analysis is unavailable.
func (a *Analyzer) Analyze(ctx context.Context, operatorText, clientContext string) *Result {
	logger := log.WithComponent("analysis")

	if a.Completer == nil {
		logger.Warn().Msg("scoring engine not configured, skipping analysis")
		return nil
	}
	if strings.TrimSpace(operatorText) == "" {
		logger.Warn().Msg("operator text is empty, skipping analysis")
		return nil
	}

	userMessage := buildUserMessage(operatorText, clientContext)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt := systemPrompt
		if attempt > 1 {
			prompt = strictSystemPrompt
		}

		raw, err := a.Completer.Complete(ctx, prompt, userMessage)
		if err != nil {
			if attempt < maxAttempts {
				delay := retryBaseDelay << (attempt - 1)
				logger.Warn().Err(err).
					Int("attempt", attempt).
					Dur("retry_in", delay).
					Msg("scoring call failed, retrying")
				a.pause(ctx, delay)
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			logger.Error().Err(err).
				Int("attempts", maxAttempts).
				Msg("scoring failed, completing without analysis")
			return nil
		}

		if res, ok := a.parseAndValidate(raw); ok {
			logger.Info().Int("attempt", attempt).Msg("analysis complete")
			res.Model = a.Model
			return res
		}
		logger.Warn().Int("attempt", attempt).Msg("invalid scoring response, retrying with strict prompt")
	}

	return nil
}

func buildUserMessage(operatorText, clientContext string) string {
	msg := "=== Реплики оператора ===\n" + strings.TrimSpace(operatorText)
	if cc := strings.TrimSpace(clientContext); cc != "" {
		msg += "\n\n=== Контекст клиента (для понимания ситуации) ===\n" + cc
	}
	return msg
}

// stripFences drops markdown code fence lines around a JSON body.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (a *Analyzer) parseAndValidate(raw string) (*Result, bool) {
	logger := log.WithComponent("analysis")
	text := stripFences(raw)

	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		logger.Warn().Err(err).Str("raw", truncate(raw, 200)).Msg("scoring response is not JSON")
		return nil, false
	}

	for _, field := range []string{"standard", "loyalty", "kindness", "overall", "summary"} {
		if _, ok := data[field]; !ok {
			logger.Warn().Str("field", field).Msg("scoring response missing field")
			return nil, false
		}
	}

	partial := false
	scores := map[string]int{}
	for _, field := range []string{"standard", "loyalty", "kindness", "overall"} {
		var num json.Number
		if err := json.Unmarshal(data[field], &num); err != nil {
			logger.Warn().Str("field", field).Msg("scoring field is not numeric")
			return nil, false
		}
		f, err := num.Float64()
		if err != nil {
			logger.Warn().Str("field", field).Msg("scoring field is not numeric")
			return nil, false
		}
		val := int(f)
		if val < 0 || val > 100 {
			logger.Warn().Str("field", field).Int("value", val).Msg("score out of range, clamping")
			if val < 0 {
				val = 0
			} else {
				val = 100
			}
			partial = true
		}
		scores[field] = val
	}

	var summary string
	if err := json.Unmarshal(data["summary"], &summary); err != nil {
		summary = strings.TrimSpace(string(data["summary"]))
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		logger.Warn().Msg("scoring response has empty summary")
		partial = true
	}

	quotes, ok := parseQuotes(data["quotes"])
	if !ok {
		partial = true
	}

	// The weighted average is authoritative when the engine's own overall
	// strays more than 5 points from it.
	expected := int(float64(scores["standard"])*0.4 +
		float64(scores["loyalty"])*0.3 +
		float64(scores["kindness"])*0.3 + 0.5)
	if diff := scores["overall"] - expected; diff > 5 || diff < -5 {
		logger.Info().
			Int("reported", scores["overall"]).
			Int("computed", expected).
			Msg("overall score recomputed from weighted average")
		scores["overall"] = expected
	}

	return &Result{
		Standard: scores["standard"],
		Loyalty:  scores["loyalty"],
		Kindness: scores["kindness"],
		Overall:  scores["overall"],
		Summary:  summary,
		Quotes:   quotes,
		Partial:  partial,
	}, true
}

// parseQuotes keeps only well-formed quotes. Missing sentiment defaults to
// neutral. The second return is false when the field itself was malformed.
func parseQuotes(raw json.RawMessage) ([]store.Quote, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	var out []store.Quote
	for _, q := range items {
		text, hasText := q["text"].(string)
		criterion, hasCriterion := q["criterion"].(string)
		if !hasText || !hasCriterion {
			continue
		}
		sentiment, _ := q["sentiment"].(string)
		if sentiment == "" {
			sentiment = "neutral"
		}
		out = append(out, store.Quote{Text: text, Criterion: criterion, Sentiment: sentiment})
	}
	return out, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
