package manifest

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty_string", "", ""},
		{"simple_string", "hello", "aGVsbG8="},
		{"special_chars", "user:pass@123!", "dXNlcjpwYXNzQDEyMyE="},
		{"newlines", "line1\nline2", "bGluZTEKbGluZTI="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, base64Encode(tt.input))
		})
	}
}

func TestIndent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "  a\n  b", indent("  ", "a\nb"))
	assert.Equal(t, "  a\n  b\n", indent("  ", "a\nb\n"), "trailing newline stays unindented")
	assert.Equal(t, "  a\n  \n  b", indent("  ", "a\n\nb"))
}

func TestToJSON(t *testing.T) {
	t.Parallel()

	out, err := toJSON([]string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "[\n  \"A\",\n  \"B\"\n]", out)

	_, err = toJSON(make(chan int))
	assert.Error(t, err)
}

func TestSha256Hash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha256Hash("hello"))
}

func TestFuncMapInTemplate(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/inline.tmpl",
		[]byte(`{{ join .Keys "," | lower }} {{ upper .Name }} {{ quote .Name }} {{ b64enc .Name }}`), 0o644))

	out, err := NewRenderer(fs, "/t").Render("inline", map[string]interface{}{
		"Keys": []string{"A", "B"},
		"Name": "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, `a,b HELLO "hello" aGVsbG8=`, out)
}
