package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStore_SetAnswerRequiresProgress(t *testing.T) {
	test := mustTest(1, 3, 10)
	s := NewStore(test)
	id := test.Sections[0].Questions[0].ID

	assert.False(t, s.SetAnswer(id, 1), "NotStarted rejects answers")
	require.True(t, s.Start())
	assert.True(t, s.SetAnswer(id, 1))

	opt, ok := s.Answer(id)
	require.True(t, ok)
	assert.Equal(t, 1, opt)
}

func TestStore_SetAnswerClampsOption(t *testing.T) {
	test := mustTest(1, 1, 10)
	s := NewStore(test)
	s.Start()
	id := test.Sections[0].Questions[0].ID

	require.True(t, s.SetAnswer(id, 99))
	opt, _ := s.Answer(id)
	assert.Equal(t, 3, opt)

	require.True(t, s.SetAnswer(id, -5))
	opt, _ = s.Answer(id)
	assert.Equal(t, 0, opt)

	assert.False(t, s.SetAnswer("unknown", 0))
}

func TestStore_AdvanceSectionIsNoopOnLast(t *testing.T) {
	test := mustTest(2, 2, 1)
	s := NewStore(test)
	s.Start()

	require.True(t, s.AdvanceSection(42))
	before := s.Snapshot()

	assert.False(t, s.AdvanceSection(10))
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, 42, s.TotalActiveSeconds())
}

func TestStore_RegisterViolation(t *testing.T) {
	test := mustTest(1, 1, 10)

	t.Run("cooldown collapses bursts", func(t *testing.T) {
		s := NewStore(test)
		s.Start()
		assert.True(t, s.RegisterViolation(testEpoch, time.Second, 3).Counted)
		assert.False(t, s.RegisterViolation(testEpoch.Add(500*time.Millisecond), time.Second, 3).Counted)
		assert.True(t, s.RegisterViolation(testEpoch.Add(1500*time.Millisecond), time.Second, 3).Counted)
		assert.Equal(t, 2, s.Strikes())
	})

	t.Run("limit locks controls", func(t *testing.T) {
		s := NewStore(test)
		s.Start()
		var res ViolationResult
		for i := 0; i < 3; i++ {
			res = s.RegisterViolation(testEpoch.Add(time.Duration(i)*time.Minute), time.Second, 3)
		}
		assert.True(t, res.AutoSubmit)
		assert.True(t, s.ControlsLocked())

		res = s.RegisterViolation(testEpoch.Add(time.Hour), time.Second, 3)
		assert.False(t, res.Counted)
		assert.Equal(t, 3, s.Strikes())
	})

	t.Run("ignored before start", func(t *testing.T) {
		s := NewStore(test)
		assert.False(t, s.RegisterViolation(testEpoch, 0, 3).Counted)
		assert.Zero(t, s.Strikes())
	})
}

func TestStore_FinalizeOnce(t *testing.T) {
	s := NewStore(mustTest(1, 1, 10))
	assert.False(t, s.Finalize(5), "cannot finalize before start")

	s.Start()
	require.True(t, s.Finalize(5))
	assert.False(t, s.Finalize(7))
	assert.Equal(t, 5, s.TotalActiveSeconds())
	assert.Equal(t, PhaseSubmitted, s.Phase())
	assert.True(t, s.ControlsLocked())
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	test := mustTest(1, 2, 10)
	s := NewStore(test)
	s.Start()
	id := test.Sections[0].Questions[0].ID
	s.SetAnswer(id, 2)

	snap := s.Snapshot()
	snap.Answers[id] = 0
	snap.SectionLocked[0] = true

	opt, _ := s.Answer(id)
	assert.Equal(t, 2, opt)
	assert.False(t, s.Snapshot().SectionLocked[0])
}

// Once a section is left, nothing that belongs to it changes again and the
// section cursor never moves backwards.
func TestStore_LockedSectionsAreFrozen(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sections := rapid.IntRange(1, 4).Draw(t, "sections")
		questions := rapid.IntRange(1, 5).Draw(t, "questions")
		test := mustTest(sections, questions, 1)
		s := NewStore(test)
		s.Start()

		var ids []string
		for _, sec := range test.Sections {
			for _, q := range sec.Questions {
				ids = append(ids, q.ID)
			}
		}

		frozen := map[int]State{}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(t, "question")
			prevSection := s.SectionIndex()

			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				s.SetAnswer(id, rapid.IntRange(-2, 6).Draw(t, "option"))
			case 1:
				s.ClearAnswer(id)
			case 2:
				s.ToggleReview(id)
			case 3:
				s.MarkVisited(id)
			case 4:
				s.MoveTo(rapid.IntRange(-3, 8).Draw(t, "index"))
			case 5:
				if s.AdvanceSection(rapid.IntRange(0, 60).Draw(t, "elapsed")) {
					frozen[prevSection] = s.Snapshot()
				}
			}

			if s.SectionIndex() < prevSection {
				t.Fatalf("section cursor moved back from %d to %d", prevSection, s.SectionIndex())
			}
			if n := len(test.Sections[s.SectionIndex()].Questions); s.QuestionIndex() < 0 || s.QuestionIndex() >= n {
				t.Fatalf("question cursor %d outside [0,%d)", s.QuestionIndex(), n)
			}

			now := s.Snapshot()
			for sec, at := range frozen {
				if !now.SectionLocked[sec] {
					t.Fatalf("section %d unlocked again", sec)
				}
				for _, q := range test.Sections[sec].Questions {
					a1, ok1 := at.Answers[q.ID]
					a2, ok2 := now.Answers[q.ID]
					if a1 != a2 || ok1 != ok2 {
						t.Fatalf("answer of locked question %s changed", q.ID)
					}
					if at.MarkedForReview[q.ID] != now.MarkedForReview[q.ID] || at.Visited[q.ID] != now.Visited[q.ID] {
						t.Fatalf("flags of locked question %s changed", q.ID)
					}
				}
			}
		}
	})
}

func TestStore_RestoreDropsUnknownAnswers(t *testing.T) {
	test := mustTest(1, 2, 10)
	s := NewStore(test)
	first := test.Sections[0].Questions[0].ID
	second := test.Sections[0].Questions[1].ID

	require.True(t, s.Restore(Progress{
		Answers: map[string]int{first: 2, second: 7, "gone": 0},
		Strikes: -1,
	}))
	st := s.Snapshot()
	assert.Equal(t, map[string]int{first: 2}, st.Answers)
	assert.True(t, st.Visited[first])
	assert.Zero(t, st.Strikes)
	assert.Equal(t, 0, st.SectionIndex)

	require.True(t, s.Start())
	assert.False(t, s.Restore(Progress{Strikes: 2}), "only a fresh store can be restored")
	assert.Zero(t, s.Strikes())
}
