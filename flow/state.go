package flow

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// EncodeState serializes a key-value context into an opaque string that is
// safe to round-trip through third-party redirect URLs. A nil or empty
// context encodes to a stable non-empty token.
func EncodeState(context map[string]any) (string, error) {
	if context == nil {
		context = map[string]any{}
	}
	raw, err := json.Marshal(context)
	if err != nil {
		return "", Wrap("state context is not serializable", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState reverses EncodeState. Malformed input is a client error, not
// a server fault: upstream systems hand the state back verbatim, so anything
// unparseable was tampered with or truncated in transit.
func DecodeState(token string) (map[string]any, error) {
	raw, err := decodeBase64Lenient(token)
	if err != nil {
		return nil, ErrInvalidRequest("malformed state %q", token)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ErrInvalidRequest("malformed state %q", token)
	}
	return out, nil
}

// decodeBase64Lenient accepts any of the common base64 alphabets and
// padding variants. Some providers percent-decode the state before echoing
// it back, which turns '+' into a space.
func decodeBase64Lenient(token string) ([]byte, error) {
	token = strings.ReplaceAll(strings.TrimSpace(token), " ", "+")
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if raw, err := enc.DecodeString(token); err == nil {
			return raw, nil
		}
	}
	return nil, ErrInvalidRequest("undecodable state")
}

// stateString extracts a non-empty string field from a decoded state map.
func stateString(state map[string]any, key string) string {
	v, ok := state[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
