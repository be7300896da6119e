package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	test, err := engine.Normalize("ws-test", &model.EngineTest{
		TestName: "Tryout",
		Sections: []model.EngineSection{
			{SectionName: "A", SectionDuration: 5, Questions: []model.EngineQuestion{
				{QuestionText: "1 + 1", Options: []string{"1", "2", "3"}},
				{QuestionText: "2 + 2", Options: []string{"3", "4", "5"}},
			}},
			{SectionName: "B", SectionDuration: 5, Questions: []model.EngineQuestion{
				{QuestionText: "3 + 3", Options: []string{"6", "7"}},
			}},
		},
	})
	require.NoError(t, err)
	return engine.New(test, engine.Options{})
}

func decode(t *testing.T, raw string) *Request {
	t.Helper()
	var r Request
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return &r
}

func apply(t *testing.T, e *engine.Engine, raw string) bool {
	t.Helper()
	fn, err := decode(t, raw).EngineAction()
	require.NoError(t, err, raw)
	return fn(e)
}

func TestEngineAction_StartNeedsFullscreen(t *testing.T) {
	e := newEngine(t)

	assert.False(t, apply(t, e, `{"action":"start"}`))
	assert.False(t, apply(t, e, `{"action":"start","fullscreen_error":"NotAllowedError"}`))
	assert.Equal(t, engine.PhaseNotStarted, e.State().Phase)

	assert.True(t, apply(t, e, `{"action":"start","fullscreen":true}`))
	assert.Equal(t, engine.PhaseInProgress, e.State().Phase)
}

func TestEngineAction_OptionsAndQuestionsAreOneBased(t *testing.T) {
	e := newEngine(t)
	require.True(t, apply(t, e, `{"action":"start","fullscreen":true}`))

	require.True(t, apply(t, e, `{"action":"select","option":2}`))
	opt, ok := e.State().Answers["ws-test-q-1-1"]
	require.True(t, ok)
	assert.Equal(t, 1, opt)

	require.True(t, apply(t, e, `{"action":"goto","question":2}`))
	assert.Equal(t, 1, e.State().QuestionIndex)

	require.True(t, apply(t, e, `{"action":"key","key":"a"}`))
	assert.Equal(t, 0, e.State().Answers["ws-test-q-1-2"])
}

func TestEngineAction_SectionAndSubmitFlow(t *testing.T) {
	e := newEngine(t)
	require.True(t, apply(t, e, `{"action":"start","fullscreen":true}`))

	require.True(t, apply(t, e, `{"action":"request_next_section"}`))
	require.True(t, apply(t, e, `{"action":"cancel_next_section"}`))
	assert.Equal(t, 0, e.State().SectionIndex)

	require.True(t, apply(t, e, `{"action":"request_next_section"}`))
	require.True(t, apply(t, e, `{"action":"confirm_next_section"}`))
	assert.Equal(t, 1, e.State().SectionIndex)

	require.True(t, apply(t, e, `{"action":"request_submit"}`))
	require.True(t, apply(t, e, `{"action":"confirm_submit"}`))
	assert.Equal(t, engine.PhaseSubmitted, e.State().Phase)
	assert.False(t, apply(t, e, `{"action":"confirm_submit"}`))
}

func TestEngineAction_Errors(t *testing.T) {
	for raw, want := range map[string]error{
		`{"action":"select"}`: ErrMissingField,
		`{"action":"goto"}`:   ErrMissingField,
		`{"action":"key"}`:    ErrMissingField,
		`{"action":"signal"}`: ErrUnknownAction,
		`{"action":"ping"}`:   ErrUnknownAction,
		`{"action":"dance"}`:  ErrUnknownAction,
	} {
		_, err := decode(t, raw).EngineAction()
		assert.ErrorIs(t, err, want, raw)
	}
}
