package decoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "unix", input: "black\nblue\ngreen\n", want: []string{"black", "blue", "green"}},
		{name: "windows line endings", input: "black\r\nblue\r\n", want: []string{"black", "blue"}},
		{name: "no trailing newline", input: "red\nwhite", want: []string{"red", "white"}},
		{name: "trailing blank lines", input: "red\n\n\n", want: []string{"red"}},
		{name: "interior blank line", input: "red\n\nwhite\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "whitespace only", input: " \n\t\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := LoadLabels(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, labels.Names())
			assert.Equal(t, len(tt.want), labels.Len())
		})
	}
}

func TestLoadLabelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("black\nblue\ngreen\norange\nred\nwhite\nyellow\n"), 0o600))

	labels, err := LoadLabelsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, labels.Len())
	assert.Equal(t, "orange", labels.Name(3))
	assert.Equal(t, 6, labels.Index("yellow"))

	_, err = LoadLabelsFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLabelTableName(t *testing.T) {
	labels := NewLabelTable("a", "b")
	assert.Equal(t, "a", labels.Name(0))
	assert.Equal(t, "", labels.Name(-1))
	assert.Equal(t, "", labels.Name(2))
	assert.Equal(t, -1, labels.Index("c"))
}
