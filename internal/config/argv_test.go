package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgv(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "empty", input: "", want: nil},
		{name: "simple", input: "piper --output-raw", want: []string{"piper", "--output-raw"}},
		{name: "quoted spaces", input: `espeak-ng --name "hello world"`, want: []string{"espeak-ng", "--name", "hello world"}},
		{name: "single quote", input: `espeak-ng --name 'hello world'`, want: []string{"espeak-ng", "--name", "hello world"}},
		{name: "escaped space", input: `espeak-ng hello\ world`, want: []string{"espeak-ng", "hello world"}},
		{name: "leading comment", input: `# piper --output-raw`, want: nil},
		{name: "unterminated quote", input: `espeak-ng "oops`, wantErr: "unterminated quote"},
		{name: "unterminated escape", input: `espeak-ng hello\`, wantErr: "unterminated escape"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseArgv(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
