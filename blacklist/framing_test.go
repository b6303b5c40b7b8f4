package blacklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerStates(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		wantDone bool
		wantHow  string
		status   int
		body     []string
	}{
		{"no-body status", []string{"204 No Content\n"}, true, "status", StatusNoContent, nil},
		{"not found", []string{"404 Not Found\n"}, true, "status", StatusNotFound, nil},
		{"split status line", []string{"20", "1 Crea", "ted\n"}, true, "status", StatusCreated, nil},
		{"body ended by blank line", []string{"200 OK\n\n", "true true\n", "\n"}, true, "blank_line", StatusOK, []string{"true true"}},
		{"body still open", []string{"200 OK\n\ntrue true"}, false, "", StatusOK, nil},
		{"separator only", []string{"200 OK\n\n"}, false, "", StatusOK, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f framer
			var done bool
			var err error
			for _, c := range tt.chunks {
				done, err = f.feed([]byte(c))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantHow, f.how)
			assert.Equal(t, tt.status, f.resp.Status)
			if done {
				assert.Equal(t, tt.body, f.resp.Body)
			}
		})
	}
}

func TestFramerFlush(t *testing.T) {
	var f framer
	done, err := f.feed([]byte("200 OK\n\ntrue false"))
	require.NoError(t, err)
	require.False(t, done)

	resp, err := f.flush("idle")
	require.NoError(t, err)
	assert.Equal(t, "idle", f.how)
	exists, blacklisted, err := resp.flags()
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, blacklisted)
}

func TestFramerFlushWithoutStatus(t *testing.T) {
	var f framer
	_, err := f.flush("eof")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestParseStatus(t *testing.T) {
	code, err := parseStatus("201 Created")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, code)

	_, err = parseStatus("302 Found")
	assert.ErrorIs(t, err, ErrProtocol)

	_, err = parseStatus("OK 200")
	assert.ErrorIs(t, err, ErrProtocol)
}
