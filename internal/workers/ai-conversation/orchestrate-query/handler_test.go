package orchestratequery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-orchestrator/internal/common/config"
	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

type fakeProcessor struct {
	resp models.Response
	err  error
	got  models.Query
}

func (f *fakeProcessor) Process(ctx context.Context, q models.Query) (models.Response, error) {
	f.got = q
	return f.resp, f.err
}

type fakeRecorder struct {
	session string
	turns   []models.Turn
	err     error
}

func (f *fakeRecorder) Append(ctx context.Context, sessionID string, turns ...models.Turn) error {
	f.session = sessionID
	f.turns = append(f.turns, turns...)
	return f.err
}

func answered() models.Response {
	return models.Response{
		QueryID:    "q-1",
		SessionID:  "s-1",
		Answer:     "It's 72°F and sunny in Baltimore.",
		Category:   models.CategoryWeather,
		Confidence: 0.9,
		State:      models.StateFinalized,
		Sources: []models.Provenance{
			{Source: "weather-primary", Provider: "weather-primary", Class: models.ClassService},
		},
		Timings:    map[string]int64{"classified": 1, "retrieved": 12},
		Validation: models.ValidationMetadata{Valid: true, Confidence: 0.9},
	}
}

func TestHandler_Execute_Success(t *testing.T) {
	proc := &fakeProcessor{resp: answered()}
	rec := &fakeRecorder{}
	h := NewHandler(&Config{Timeout: time.Second, RecordHistory: true}, proc, rec, logger.NewTestLogger(t))
	temperature := 0.3

	out, err := h.Execute(context.Background(), &Input{
		Query:       "  what's the weather in Baltimore ",
		Mode:        models.ModeGuest,
		Zone:        "living_room",
		Temperature: &temperature,
		SessionID:   "s-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "what's the weather in Baltimore", proc.got.Text)
	assert.Equal(t, models.ModeGuest, proc.got.Mode)
	assert.Equal(t, "living_room", proc.got.Zone)
	require.NotNil(t, proc.got.Temperature)
	assert.Equal(t, 0.3, *proc.got.Temperature)

	assert.Equal(t, "It's 72°F and sunny in Baltimore.", out.Answer)
	assert.Equal(t, models.CategoryWeather, out.Category)
	assert.Equal(t, "q-1", out.QueryID)
	assert.Equal(t, "s-1", out.SessionID)
	assert.Len(t, out.Sources, 1)
	assert.Equal(t, int64(12), out.Timings["retrieved"])
	assert.False(t, out.Unanswerable)

	require.Len(t, rec.turns, 2)
	assert.Equal(t, "s-1", rec.session)
	assert.Equal(t, "user", rec.turns[0].Role)
	assert.Equal(t, "what's the weather in Baltimore", rec.turns[0].Text)
	assert.False(t, rec.turns[0].Timestamp.IsZero())
	assert.Equal(t, "assistant", rec.turns[1].Role)
	assert.Equal(t, out.Answer, rec.turns[1].Text)
}

func TestHandler_Execute_History(t *testing.T) {
	unanswerable := answered()
	unanswerable.Unanswerable = true
	unanswerable.Answer = "Sorry, I can't answer that right now."
	unanswerable.State = models.StateFailed

	tests := []struct {
		name      string
		record    bool
		session   string
		resp      models.Response
		wantTurns int
	}{
		{"recorded", true, "s-1", answered(), 2},
		{"recording disabled", false, "s-1", answered(), 0},
		{"no session", true, "", answered(), 0},
		{"unanswerable not recorded", true, "s-1", unanswerable, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			h := NewHandler(&Config{Timeout: time.Second, RecordHistory: tt.record}, &fakeProcessor{resp: tt.resp}, rec, logger.NewTestLogger(t))

			out, err := h.Execute(context.Background(), &Input{Query: "what's the weather", SessionID: tt.session})
			require.NoError(t, err)
			assert.Equal(t, tt.resp.Unanswerable, out.Unanswerable)
			assert.Len(t, rec.turns, tt.wantTurns)
		})
	}
}

func TestHandler_Execute_HistoryFailureIgnored(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("redis down")}
	h := NewHandler(&Config{Timeout: time.Second, RecordHistory: true}, &fakeProcessor{resp: answered()}, rec, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{Query: "what's the weather", SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "q-1", out.QueryID)
}

func TestHandler_Execute_NilHistory(t *testing.T) {
	h := NewHandler(&Config{Timeout: time.Second, RecordHistory: true}, &fakeProcessor{resp: answered()}, nil, logger.NewTestLogger(t))

	_, err := h.Execute(context.Background(), &Input{Query: "what's the weather", SessionID: "s-1"})
	require.NoError(t, err)
}

func TestHandler_Execute_ProcessorError(t *testing.T) {
	proc := &fakeProcessor{err: apperrors.NewInvalidQueryError("query text is empty")}
	h := NewHandler(&Config{Timeout: time.Second}, proc, nil, logger.NewTestLogger(t))

	out, err := h.Execute(context.Background(), &Input{Query: "   "})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidQuery))
}

func TestDecodeInput(t *testing.T) {
	tests := []struct {
		name      string
		variables string
		wantMode  models.Mode
		wantErr   bool
	}{
		{"defaults mode", `{"query":"turn on the lights"}`, "", false},
		{"guest mode", `{"query":"turn on the lights","mode":"guest"}`, models.ModeGuest, false},
		{"unknown mode", `{"query":"turn on the lights","mode":"admin"}`, "", true},
		{"malformed", `{"query":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := decodeInput(tt.variables)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidQuery))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, in.Mode)
		})
	}
}

func TestDecodeInput_ZeroTemperatureIsKept(t *testing.T) {
	in, err := decodeInput(`{"query":"what's the weather","temperature":0}`)
	require.NoError(t, err)
	require.NotNil(t, in.toQuery().Temperature)
	assert.Zero(t, *in.toQuery().Temperature)

	in, err = decodeInput(`{"query":"what's the weather"}`)
	require.NoError(t, err)
	assert.Nil(t, in.toQuery().Temperature)
}

func TestInput_ToQueryBoundsHistory(t *testing.T) {
	turns := make([]models.Turn, 0, 14)
	for i := 0; i < 14; i++ {
		turns = append(turns, models.Turn{Role: "user", Text: string(rune('a' + i))})
	}
	in := &Input{Query: "hi", PriorTurns: turns}

	q := in.toQuery()
	assert.Equal(t, models.ModeOwner, q.Mode)
	require.Len(t, q.PriorTurns, models.MaxPriorTurns)
	assert.Equal(t, "e", q.PriorTurns[0].Text)
}

func TestNewConfig(t *testing.T) {
	assert.Equal(t, 30*time.Second, NewConfig(config.WorkerConfig{}, false).Timeout)

	c := NewConfig(config.WorkerConfig{Timeout: 4500}, true)
	assert.Equal(t, 4500*time.Millisecond, c.Timeout)
	assert.True(t, c.RecordHistory)
}
