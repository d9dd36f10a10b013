package vault

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KVFormat identifies the wire format of a KV secrets engine mount.
type KVFormat int

const (
	// V1 is the unversioned KV engine: data lives directly under mount/name.
	V1 KVFormat = 1
	// V2 is the versioned KV engine: data lives under mount/data/name and
	// history under mount/metadata/name.
	V2 KVFormat = 2
)

func (f KVFormat) String() string {
	switch f {
	case V1:
		return "kv-v1"
	case V2:
		return "kv-v2"
	default:
		return fmt.Sprintf("kv-unknown(%d)", int(f))
	}
}

// ParseKVFormat converts a configured engine version to a KVFormat.
func ParseKVFormat(version int) (KVFormat, error) {
	switch version {
	case 1:
		return V1, nil
	case 2:
		return V2, nil
	default:
		return 0, fmt.Errorf("unsupported KV version %d (must be 1 or 2)", version)
	}
}

// kvEngine owns everything that differs between the two formats.
type kvEngine interface {
	format() KVFormat
	dataPath(path string) (string, error)
	// metadataPath returns "" when the format has no metadata endpoint.
	metadataPath(path string) (string, error)
	wrap(b Bundle) map[string]interface{}
	unwrap(data map[string]interface{}) Bundle
}

func engineFor(f KVFormat) (kvEngine, error) {
	switch f {
	case V1:
		return v1Engine{}, nil
	case V2:
		return v2Engine{}, nil
	default:
		return nil, fmt.Errorf("unsupported KV format %s", f)
	}
}

type v1Engine struct{}

func (v1Engine) format() KVFormat { return V1 }

func (v1Engine) dataPath(path string) (string, error) {
	mount, name, err := splitPath(path, false)
	if err != nil {
		return "", err
	}
	return mount + "/" + name, nil
}

func (v1Engine) metadataPath(string) (string, error) { return "", nil }

func (v1Engine) wrap(b Bundle) map[string]interface{} {
	payload := make(map[string]interface{}, len(b))
	for k, v := range b {
		payload[k] = v
	}
	return payload
}

func (v1Engine) unwrap(data map[string]interface{}) Bundle {
	return toBundle(data)
}

type v2Engine struct{}

func (v2Engine) format() KVFormat { return V2 }

func (v2Engine) dataPath(path string) (string, error) {
	mount, name, err := splitPath(path, true)
	if err != nil {
		return "", err
	}
	return mount + "/data/" + name, nil
}

func (v2Engine) metadataPath(path string) (string, error) {
	mount, name, err := splitPath(path, true)
	if err != nil {
		return "", err
	}
	return mount + "/metadata/" + name, nil
}

func (v2Engine) wrap(b Bundle) map[string]interface{} {
	data := make(map[string]interface{}, len(b))
	for k, v := range b {
		data[k] = v
	}
	return map[string]interface{}{"data": data}
}

// unwrap reads the nested envelope: the top level "data" holds another
// "data" block next to "metadata".
func (v2Engine) unwrap(data map[string]interface{}) Bundle {
	inner, ok := data["data"].(map[string]interface{})
	if !ok {
		return Bundle{}
	}
	return toBundle(inner)
}

// splitPath separates the mount from the secret name. For v2 callers may
// pass the API form (mount/data/name or mount/metadata/name); with
// versioned set the engine segment is stripped so both forms address the
// same secret.
func splitPath(path string, versioned bool) (string, string, error) {
	p := strings.Trim(path, "/")
	mount, rest, ok := strings.Cut(p, "/")
	if !ok || mount == "" || rest == "" {
		return "", "", &InvalidPathError{Path: path}
	}
	if !versioned {
		return mount, rest, nil
	}
	for _, seg := range []string{"data/", "metadata/"} {
		if strings.HasPrefix(rest, seg) && len(rest) > len(seg) {
			rest = strings.TrimPrefix(rest, seg)
			break
		}
	}
	return mount, rest, nil
}

func toBundle(data map[string]interface{}) Bundle {
	b := make(Bundle, len(data))
	for k, v := range data {
		b[k] = stringify(v)
	}
	return b
}

// stringify keeps values opaque: strings pass through, anything else is
// kept as its JSON text.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case json.Number:
		return t.String()
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
