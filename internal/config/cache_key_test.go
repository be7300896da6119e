package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionDigestKeyIsScopedToStudentAndTest(t *testing.T) {
	a := CacheKey.SubmissionDigestKey("t1", 9001, "abc")
	assert.Equal(t, "submission:t1:9001:abc", a)
	assert.NotEqual(t, a, CacheKey.SubmissionDigestKey("t1", 9002, "abc"))
	assert.NotEqual(t, a, CacheKey.SubmissionDigestKey("t2", 9001, "abc"))
}
