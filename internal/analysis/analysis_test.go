// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
	messages  []string
}

func (s *scriptedCompleter) Complete(_ context.Context, systemPrompt, userMessage string) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, systemPrompt)
	s.messages = append(s.messages, userMessage)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp string
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func newTestAnalyzer(c Completer) *Analyzer {
	a := New(c, "gpt-4")
	a.sleep = func(context.Context, time.Duration) {}
	return a
}

const goodResponse = `{
	"standard": 85,
	"loyalty": 70,
	"kindness": 90,
	"overall": 82,
	"summary": "Оператор работал хорошо.",
	"quotes": [
		{"text": "чем могу помочь", "criterion": "standard", "sentiment": "positive"}
	]
}`

func TestAnalyzeHappyPath(t *testing.T) {
	c := &scriptedCompleter{responses: []string{goodResponse}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "здравствуйте\nчем могу помочь", "мне нужна помощь")

	require.NotNil(t, res)
	assert.Equal(t, 85, res.Standard)
	// 85*0.4 + 70*0.3 + 90*0.3 = 82, matches the reported overall.
	assert.Equal(t, 82, res.Overall)
	assert.Equal(t, "Оператор работал хорошо.", res.Summary)
	assert.Equal(t, "gpt-4", res.Model)
	assert.False(t, res.Partial)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, "standard", res.Quotes[0].Criterion)

	assert.Equal(t, 1, c.calls)
	assert.Contains(t, c.messages[0], "=== Реплики оператора ===\nздравствуйте\nчем могу помочь")
	assert.Contains(t, c.messages[0], "=== Контекст клиента")
	assert.NotContains(t, c.prompts[0], "СТРОГО")
}

func TestAnalyzeUnavailable(t *testing.T) {
	assert.Nil(t, newTestAnalyzer(nil).Analyze(context.Background(), "text", ""))

	c := &scriptedCompleter{responses: []string{goodResponse}}
	assert.Nil(t, newTestAnalyzer(c).Analyze(context.Background(), "   ", ""))
	assert.Zero(t, c.calls, "empty operator text never reaches the engine")
}

func TestAnalyzeRetriesOnInvalidJSON(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"not json at all", goodResponse}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	assert.Equal(t, 2, c.calls)
	assert.NotContains(t, c.prompts[0], "СТРОГО")
	assert.Contains(t, c.prompts[1], "СТРОГО", "second attempt uses the strict prompt")
}

func TestAnalyzeRetriesOnError(t *testing.T) {
	c := &scriptedCompleter{
		responses: []string{"", "", goodResponse},
		errs:      []error{errors.New("rate limited"), errors.New("timeout"), nil},
	}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")
	require.NotNil(t, res)
	assert.Equal(t, 3, c.calls)
}

func TestAnalyzeGivesUpAfterThreeAttempts(t *testing.T) {
	c := &scriptedCompleter{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")
	assert.Nil(t, res)
	assert.Equal(t, 3, c.calls)
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	c := &scriptedCompleter{responses: []string{"```json\n" + goodResponse + "\n```"}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")
	require.NotNil(t, res)
	assert.Equal(t, 85, res.Standard)
}

func TestAnalyzeClampsAndMarksPartial(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{
		"standard": 120, "loyalty": -4, "kindness": 90, "overall": 70,
		"summary": "ok", "quotes": []
	}`}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, 100, res.Standard)
	assert.Equal(t, 0, res.Loyalty)
	// Weighted average of the clamped scores is 67, within 5 of the
	// reported 70, so the reported overall stands.
	assert.Equal(t, 70, res.Overall)
}

func TestAnalyzeRecomputesDeviantOverall(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{
		"standard": 80, "loyalty": 80, "kindness": 80, "overall": 20,
		"summary": "ok"
	}`}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	assert.Equal(t, 80, res.Overall, "weighted average replaces a wildly off overall")
	assert.False(t, res.Partial)
}

func TestAnalyzeRejectsMissingFields(t *testing.T) {
	c := &scriptedCompleter{responses: []string{
		`{"standard": 80, "loyalty": 80, "kindness": 80, "overall": 80}`,
		`{"standard": "high", "loyalty": 80, "kindness": 80, "overall": 80, "summary": "x"}`,
		goodResponse,
	}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	assert.Equal(t, 3, c.calls, "missing summary and non-numeric score each force a retry")
}

func TestAnalyzeQuoteRepair(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{
		"standard": 80, "loyalty": 80, "kindness": 80, "overall": 80,
		"summary": "ok",
		"quotes": [
			{"text": "спасибо", "criterion": "kindness"},
			{"text": "no criterion"},
			"garbage entry"
		]
	}`}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, "neutral", res.Quotes[0].Sentiment, "missing sentiment defaults to neutral")
}

func TestAnalyzeMalformedQuotesFieldIsPartial(t *testing.T) {
	c := &scriptedCompleter{responses: []string{`{
		"standard": 80, "loyalty": 80, "kindness": 80, "overall": 80,
		"summary": "ok", "quotes": "none"
	}`}}
	res := newTestAnalyzer(c).Analyze(context.Background(), "text", "")

	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Empty(t, res.Quotes)
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "sk-test", Model: "gpt-4", Endpoint: srv.URL}
	out, err := c.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOpenAIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "insufficient_quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := &OpenAIClient{APIKey: "sk-test", Model: "gpt-4", Endpoint: srv.URL}
	_, err := c.Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer empty.Close()

	c.Endpoint = empty.URL
	_, err = c.Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no choices"))
}
