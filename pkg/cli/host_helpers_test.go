package cli

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateHostURL(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{name: "valid http", host: "http://127.0.0.1:8080"},
		{name: "valid https", host: "https://ask.example.com"},
		{name: "trailing slash", host: "http://localhost:8080/"},
		{name: "missing scheme", host: "localhost:8080", wantErr: true},
		{name: "bogus scheme", host: "://bad", wantErr: true},
		{name: "empty", host: "", wantErr: true},
		{name: "path not allowed", host: "http://localhost:8080/v1", wantErr: true},
		{name: "query not allowed", host: "http://localhost:8080?x=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHostURL(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestQueryPath(t *testing.T) {
	assert.Equal(t, "/queries/abc", queryPath("abc", ""))
	assert.Equal(t, "/queries/abc/result", queryPath("abc", "result"))
	assert.Equal(t, "/queries/a%2Fb/cancel", queryPath("a/b", "cancel"))
}

func TestChangedParams_OnlySetFlags(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flags.String("state", "", "")
	flags.StringP("source", "s", "", "")
	flags.Int("max-results", 0, "")
	require.NoError(t, flags.Parse([]string{"-s", "demo", "--max-results", "5"}))

	q := changedParams(flags, historyParams)
	assert.Equal(t, "demo", q.Get("data_source"))
	assert.Equal(t, "5", q.Get("max_results"))
	assert.False(t, q.Has("state"))
}
