package yamlvalue

import (
	"encoding/base64"
	"strings"
)

// DecodeBinaryTag decodes a YAML !!binary scalar following the sanitizing
// rules of original_source's jmutils/base64.cpp base64_sanitize (SPEC_FULL.md
// Open Question ii decision): embedded whitespace (newline and space in the
// original; this port also tolerates tab and carriage return) is stripped
// before decoding. A stripped length ≡ 2 or 3 (mod 4) is padded with one or
// two '=' rather than rejected; only a length ≡ 1 (mod 4) is never a valid
// base64 encoding and is rejected outright.
func DecodeBinaryTag(raw string) (data []byte, ok bool) {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r', ' ':
			return -1
		}
		return r
	}, raw)

	switch len(stripped) % 4 {
	case 1:
		return nil, false
	case 2:
		stripped += "=="
	case 3:
		stripped += "="
	}

	decoded, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil {
		return nil, false
	}
	return decoded, true
}
