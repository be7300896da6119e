package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAnswerKey(t *testing.T) {
	test := sampleTest(t, 2, 2)

	keys, err := BuildAnswerKey(test, [][]int{{1, 4}, {2, 3}})
	require.NoError(t, err)
	assert.Equal(t, 4, keys[test.Sections[0].Questions[1].ID])
	assert.Equal(t, 2, keys[test.Sections[1].Questions[0].ID])
	assert.Len(t, keys, 4)

	for name, key := range map[string][][]int{
		"missing section": {{1, 1}},
		"short section":   {{1, 1}, {1}},
		"zero option":     {{0, 1}, {1, 1}},
		"past last":       {{5, 1}, {1, 1}},
	} {
		_, err := BuildAnswerKey(test, key)
		assert.ErrorIs(t, err, ErrAnswerKeyMismatch, name)
	}
}

func TestInferReason(t *testing.T) {
	assert.Equal(t, engine.ReasonManual, inferReason(&model.SubmitTestPayload{}))
	assert.Equal(t, engine.ReasonTimeout, inferReason(&model.SubmitTestPayload{
		AutoSubmission: model.AutoSubmission{IsAutoSubmitted: true},
	}))
	assert.Equal(t, engine.ReasonViolation, inferReason(&model.SubmitTestPayload{
		AutoSubmission: model.AutoSubmission{IsAutoSubmitted: true, TabSwitches: 3},
	}))
}

func TestMergeProgress(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	open := []model.MonitorAttempt{
		{AttemptID: a.String(), StudentID: 1},
		{AttemptID: b.String(), StudentID: 2},
	}

	snap := mergeProgress(open,
		map[uuid.UUID]int64{a: 5},
		map[uuid.UUID]int64{b: 2, uuid.New(): 1},
	)
	require.Len(t, snap.Attempts, 2)
	assert.Equal(t, int64(5), snap.Attempts[0].Answered)
	assert.Equal(t, int64(0), snap.Attempts[0].Violations)
	assert.Equal(t, int64(2), snap.Attempts[1].Violations)
	assert.Equal(t, int64(3), snap.TotalViolations)

	empty := mergeProgress(nil, nil, nil)
	assert.NotNil(t, empty.Attempts)
	assert.Zero(t, empty.TotalViolations)
}

func TestPagination(t *testing.T) {
	page, perPage := clampPage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, 10, perPage)

	_, perPage = clampPage(2, 500)
	assert.Equal(t, 100, perPage)

	p := paginate(2, 10, 21)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 0, paginate(1, 10, 0).TotalPages)
}
