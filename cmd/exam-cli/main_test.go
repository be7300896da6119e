package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `{
	"testName": "Mock UTBK",
	"sections": [
		{"sectionName": "Verbal", "sectionDuration": 1.5, "questions": [
			{"questionText": "Synonym of quick?", "options": ["fast", "slow"]}
		]},
		{"sectionName": "Numeric", "sectionDuration": 90, "questions": [
			{"questionText": "2+2", "options": ["3", "4"]},
			{"questionText": "https://cdn.example.com/q2.png", "options": ["a", "b"]}
		]}
	]
}`

func writeTest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utbk-01.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadTest_IDFallsBackToFileName(t *testing.T) {
	test, err := loadTest(writeTest(t, definition), "")
	require.NoError(t, err)
	assert.Equal(t, "utbk-01", test.ID)
	assert.Equal(t, "utbk-01-section-1", test.Sections[0].ID)
	assert.Equal(t, 3, test.QuestionCount())

	test, err = loadTest(writeTest(t, definition), "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", test.ID)
}

func TestValidateCmd(t *testing.T) {
	out, err := execute(t, "validate", "--test", writeTest(t, definition), "--outbox", filepath.Join(t.TempDir(), "o.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "Mock UTBK (utbk-01): 2 sections, 3 questions")
	assert.Contains(t, out, "01:30")
	assert.Contains(t, out, "01:30:00")
}

func TestValidateCmd_RejectsEmptySection(t *testing.T) {
	_, err := execute(t, "validate", "--test", writeTest(t, `{"testName":"x","sections":[{"sectionName":"s","sectionDuration":1,"questions":[]}]}`))
	assert.Error(t, err)
}

func TestOutboxCmds(t *testing.T) {
	db := filepath.Join(t.TempDir(), "outbox.db")

	out, err := execute(t, "outbox", "list", "--outbox", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Outbox is empty")

	_, err = execute(t, "outbox", "flush", "--outbox", db, "--endpoint", "")
	assert.ErrorContains(t, err, "--endpoint")
}
