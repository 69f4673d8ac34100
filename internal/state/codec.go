// Package state encodes caller data into an opaque token that survives the
// round-trip through a provider's authorize redirect.
package state

import (
	"encoding/base64"
	"encoding/json"
)

// Blob is the key/value data carried through the redirect. Values are
// strings, bools, or JSON numbers (float64 after a round-trip).
type Blob map[string]any

// String returns the value under key when it is a string, else the empty
// string. A missing expected field is the caller's authentication failure to
// handle, not the codec's.
func (b Blob) String(key string) string {
	if b == nil {
		return ""
	}
	value, _ := b[key].(string)
	return value
}

// Encode renders the blob as a single URL-safe token.
func Encode(b Blob) (string, error) {
	if b == nil {
		b = Blob{}
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode is the inverse of Encode. State arrives from the provider redirect
// and is attacker-controlled, so malformed, empty, or non-object input yields
// an empty blob rather than an error.
func Decode(token string) Blob {
	if token == "" {
		return Blob{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate padded or standard-alphabet input from proxies that
		// re-encode query strings.
		if raw, err = base64.URLEncoding.DecodeString(token); err != nil {
			if raw, err = base64.StdEncoding.DecodeString(token); err != nil {
				return Blob{}
			}
		}
	}
	var blob Blob
	if err := json.Unmarshal(raw, &blob); err != nil || blob == nil {
		return Blob{}
	}
	return blob
}
