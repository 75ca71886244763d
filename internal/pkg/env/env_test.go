package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	Env = map[string]string{"PROJECT_ID": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PROJECT_ID", "from-process")

	assert.Equal(t, "from-file", GetEnv("PROJECT_ID", ""))
	assert.Equal(t, "fallback", GetEnv("MISSING_KEY_FOR_TEST", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TRIAL_CREDITS", "450")
	assert.Equal(t, 450, GetEnvInt("TRIAL_CREDITS", 300))

	t.Setenv("TRIAL_CREDITS", "lots")
	assert.Equal(t, 300, GetEnvInt("TRIAL_CREDITS", 300))

	assert.Equal(t, 7, GetEnvInt("UNSET_INT_FOR_TEST", 7))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	assert.True(t, GetEnvBool("S3_ARCHIVE_ENABLED", false))

	t.Setenv("S3_ARCHIVE_ENABLED", "nope")
	assert.False(t, GetEnvBool("S3_ARCHIVE_ENABLED", false))
}
