package engine

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ErrInvalidTest is returned when a definition cannot be run by the engine.
var ErrInvalidTest = errors.New("invalid test definition")

// Test is a normalized, immutable test definition.
type Test struct {
	ID       string
	Name     string
	Sections []Section
}

// Section is an ordered, timed block of questions.
type Section struct {
	ID        string
	Name      string
	Duration  time.Duration
	Questions []Question
}

// Question is a single multiple-choice item.
type Question struct {
	ID       string
	Text     string
	ImageURL string
	Options  []string
}

// QuestionCount is the number of questions across all sections.
func (t *Test) QuestionCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Questions)
	}
	return n
}

// LastSection is the index of the final section.
func (t *Test) LastSection() int {
	return len(t.Sections) - 1
}

var definitionValidator = newDefinitionValidator()

func newDefinitionValidator() *govalidator.Validate {
	v := govalidator.New(govalidator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize validates a wire definition and turns it into a Test.
// Missing identifiers are filled with stable fallbacks derived from testID
// and 1-based positions; section durations are converted from minutes.
func Normalize(testID string, def *model.EngineTest) (*Test, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: empty definition", ErrInvalidTest)
	}
	if err := definitionValidator.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTest, describeValidation(err))
	}

	if def.ID != "" {
		testID = def.ID
	}
	if testID == "" {
		return nil, fmt.Errorf("%w: missing test id", ErrInvalidTest)
	}

	t := &Test{
		ID:       testID,
		Name:     def.TestName,
		Sections: make([]Section, 0, len(def.Sections)),
	}

	seen := make(map[string]struct{}, 64)
	for si, rs := range def.Sections {
		sec := Section{
			ID:        orDefault(rs.ID, fmt.Sprintf("%s-section-%d", testID, si+1)),
			Name:      rs.SectionName,
			Duration:  minutesToDuration(rs.SectionDuration),
			Questions: make([]Question, 0, len(rs.Questions)),
		}
		for qi, rq := range rs.Questions {
			q := Question{
				ID:       orDefault(rq.ID, fmt.Sprintf("%s-q-%d-%d", testID, si+1, qi+1)),
				Text:     rq.QuestionText,
				ImageURL: rq.ImageURL,
				Options:  append([]string(nil), rq.Options...),
			}
			if _, dup := seen[q.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidTest, q.ID)
			}
			seen[q.ID] = struct{}{}
			sec.Questions = append(sec.Questions, q)
		}
		t.Sections = append(t.Sections, sec)
	}

	return t, nil
}

func describeValidation(err error) string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		parts = append(parts, fmt.Sprintf("%s failed %q", ns, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// maxSectionMinutes matches the sectionDuration bound of model.EngineSection.
const maxSectionMinutes = 1440

func minutesToDuration(minutes float64) time.Duration {
	if minutes <= 0 || math.IsNaN(minutes) {
		return 0
	}
	if minutes > maxSectionMinutes {
		minutes = maxSectionMinutes
	}
	return time.Duration(math.Round(minutes*60)) * time.Second
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// Definition converts t back to its wire form with every ID filled in.
func (t *Test) Definition() *model.EngineTest {
	def := &model.EngineTest{
		ID:       t.ID,
		TestName: t.Name,
		Sections: make([]model.EngineSection, len(t.Sections)),
	}
	for si, sec := range t.Sections {
		es := model.EngineSection{
			ID:              sec.ID,
			SectionName:     sec.Name,
			SectionDuration: sec.Duration.Minutes(),
			Questions:       make([]model.EngineQuestion, len(sec.Questions)),
		}
		for qi, q := range sec.Questions {
			es.Questions[qi] = model.EngineQuestion{
				ID:           q.ID,
				QuestionText: q.Text,
				Options:      append([]string(nil), q.Options...),
				ImageURL:     q.ImageURL,
			}
		}
		def.Sections[si] = es
	}
	return def
}
