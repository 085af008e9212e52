package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	name, err := Sanitize("  alice  ")
	require.NoError(t, err)
	assert.Equal(t, Username("alice"), name)

	_, err = Sanitize("   ")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = Sanitize("")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = Sanitize("\t\n\r")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = Sanitize(strings.Repeat("a", MaxUsernameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestSanitizeEscapesMarkup(t *testing.T) {
	name, err := Sanitize(`<img src=x>`)
	require.NoError(t, err)
	assert.NotContains(t, string(name), "<")
	assert.NotContains(t, string(name), ">")
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	name, err := Sanitize("al\x00ice\x07")
	require.NoError(t, err)
	assert.Equal(t, Username("alice"), name)
}

func TestStateJSON(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:            `"idle"`,
		StatePendingOutgoing: `"pending_out"`,
		StatePendingIncoming: `"pending_in"`,
		StatePaired:          `"paired"`,
	} {
		b, err := json.Marshal(state)
		require.NoError(t, err)
		assert.Equal(t, want, string(b))

		// Clients decode the same frames the server emits.
		var got State
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, state, got)
	}
}

func TestStateJSONRejectsUnknown(t *testing.T) {
	var s State
	assert.Error(t, json.Unmarshal([]byte(`"busy"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`2`), &s))
}
