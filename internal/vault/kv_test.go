package vault

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnginePaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		format   KVFormat
		path     string
		data     string
		metadata string
	}{
		{name: "v1 plain", format: V1, path: "secret/app", data: "secret/app"},
		{name: "v1 keeps data segment", format: V1, path: "secret/data/app", data: "secret/data/app"},
		{name: "v1 nested", format: V1, path: "/kv/team/app/", data: "kv/team/app"},
		{name: "v2 logical", format: V2, path: "secret/app", data: "secret/data/app", metadata: "secret/metadata/app"},
		{name: "v2 api form", format: V2, path: "secret/data/app", data: "secret/data/app", metadata: "secret/metadata/app"},
		{name: "v2 metadata form", format: V2, path: "secret/metadata/team/app", data: "secret/data/team/app", metadata: "secret/metadata/team/app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine, err := engineFor(tt.format)
			require.NoError(t, err)

			data, err := engine.dataPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)

			meta, err := engine.metadataPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.metadata, meta)
		})
	}
}

func TestSplitPathRejectsMissingName(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"", "secret", "/secret/", "secret/"} {
		_, _, err := splitPath(p, true)
		var invalid *InvalidPathError
		assert.ErrorAs(t, err, &invalid, "path %q", p)
	}
}

func TestEngineForUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := engineFor(KVFormat(3))
	assert.Error(t, err)

	_, err = ParseKVFormat(0)
	assert.Error(t, err)

	f, err := ParseKVFormat(2)
	require.NoError(t, err)
	assert.Equal(t, V2, f)
	assert.Equal(t, "kv-v2", f.String())
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()

	b := Bundle{"user": "admin", "pass": "s3cret"}

	v1 := v1Engine{}
	assert.Equal(t, map[string]interface{}{"user": "admin", "pass": "s3cret"}, v1.wrap(b))

	v2 := v2Engine{}
	wrapped := v2.wrap(b)
	assert.Equal(t, map[string]interface{}{"data": map[string]interface{}{"user": "admin", "pass": "s3cret"}}, wrapped)

	envelope := map[string]interface{}{
		"data":     map[string]interface{}{"user": "admin", "pass": "s3cret"},
		"metadata": map[string]interface{}{"version": json.Number("4")},
	}
	assert.Equal(t, b, v2.unwrap(envelope))
	assert.Equal(t, Bundle{}, v2.unwrap(map[string]interface{}{"metadata": nil}))
}

func TestStringifyKeepsValuesOpaque(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", stringify("plain"))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "42", stringify(json.Number("42")))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, `{"a":"b"}`, stringify(map[string]interface{}{"a": "b"}))
}

func TestBundleKeysAndClone(t *testing.T) {
	t.Parallel()

	b := Bundle{"a": "1", "b": "2"}
	assert.ElementsMatch(t, []string{"a", "b"}, b.Keys())

	c := b.Clone()
	c["a"] = "changed"
	assert.Equal(t, "1", b["a"])
}
