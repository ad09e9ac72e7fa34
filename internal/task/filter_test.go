package task

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OneChain-Portal/internal/errors"
)

func TestParseFilter(t *testing.T) {
	values := url.Values{
		"status":     {"failed, pending,failed"},
		"kind":       {"execute"},
		"network":    {" testnet "},
		"error_code": {"execution_failed"},
		"since":      {"2026-01-02T03:04:05Z"},
		"order":      {"ASC"},
		"limit":      {"500"},
	}
	f, err := ParseFilter(values)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusFailed, StatusPending}, f.Statuses)
	assert.Equal(t, []Kind{KindExecute}, f.Kinds)
	assert.Equal(t, "testnet", f.Network)
	assert.Equal(t, "EXECUTION_FAILED", f.ErrorCode)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), f.Since)
	assert.True(t, f.Oldest)
	assert.Equal(t, maxListLimit, f.Limit)

	empty, err := ParseFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, empty.Limit)
	assert.Nil(t, empty.Statuses)
}

func TestParseFilterRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  xerrors.Code
	}{
		{name: "unknown status", query: "status=done", code: CodeJobValidation},
		{name: "unknown kind", query: "kind=transfer", code: CodeJobValidation},
		{name: "negative offset", query: "offset=-1", code: xerrors.CodeInvalidArgument},
		{name: "bad since", query: "since=yesterday", code: xerrors.CodeInvalidArgument},
		{name: "inverted range", query: "since=2026-02-01T00:00:00Z&until=2026-01-01T00:00:00Z", code: xerrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			_, err = ParseFilter(values)
			assert.Equal(t, tt.code, xerrors.CodeOf(err))
		})
	}
}

func TestFilterMatchUsesUpdateWindow(t *testing.T) {
	job := &Job{ID: "j", Kind: KindSimulate, UpdatedAt: 1000}
	assert.True(t, Filter{Since: time.Unix(1000, 0), Until: time.Unix(1000, 0)}.Match(job))
	assert.False(t, Filter{Since: time.Unix(1001, 0)}.Match(job))
	assert.False(t, Filter{Until: time.Unix(999, 0)}.Match(job))
	assert.False(t, Filter{Kinds: []Kind{KindExecute}}.Match(job))
}
