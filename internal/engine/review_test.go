package engine

import (
	"testing"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAnswer(t *testing.T) {
	assert.Equal(t, ReviewCorrect, ClassifyAnswer(2, true, 2))
	assert.Equal(t, ReviewIncorrect, ClassifyAnswer(1, true, 2))
	assert.Equal(t, ReviewSkipped, ClassifyAnswer(model.UnansweredOption, true, 2))
	assert.Equal(t, ReviewSkipped, ClassifyAnswer(0, true, 2))
	assert.Equal(t, ReviewSkipped, ClassifyAnswer(2, false, 2))
}

func TestReview_UsesSubmittedPayload(t *testing.T) {
	h := startedHarness(mustTest(1, 3, 10))
	ids := []string{}
	keys := map[string]int{}
	for _, q := range h.engine.Test().Sections[0].Questions {
		ids = append(ids, q.ID)
		keys[q.ID] = 2
	}

	h.engine.SelectOption(1)
	h.engine.NextQuestion()
	h.engine.SelectOption(3)
	require.True(t, h.engine.Submit(ReasonManual))

	sum := Review(h.engine.Test(), h.engine.Submission().Payload, keys)
	assert.Equal(t, 1, sum.Correct)
	assert.Equal(t, 1, sum.Incorrect)
	assert.Equal(t, 1, sum.Skipped)
	require.Len(t, sum.Items, 3)
	assert.Equal(t, ids[2], sum.Items[2].QuestionID)
	assert.Equal(t, model.UnansweredOption, sum.Items[2].SelectedOption)
	assert.Equal(t, "Section A", sum.Items[0].SectionName)
}

func TestReview_MissingEntriesAreSkipped(t *testing.T) {
	test := mustTest(1, 2, 10)
	sum := Review(test, &model.SubmitTestPayload{}, map[string]int{})
	assert.Equal(t, 2, sum.Skipped)
}
