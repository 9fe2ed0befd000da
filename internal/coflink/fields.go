package coflink

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Wire field names. These are bit-exact contract items with the bank and must
// never be renamed.
const (
	FieldService  = "VK_SERVICE"
	FieldVersion  = "VK_VERSION"
	FieldSenderID = "VK_SND_ID"
	FieldReceiver = "VK_REC_ID"
	FieldStamp    = "VK_STAMP"
	FieldData     = "VK_DATA"
	FieldResponse = "VK_RESPONSE"
	FieldReturn   = "VK_RETURN"
	FieldDatetime = "VK_DATETIME"
	FieldMAC      = "VK_MAC"
	FieldEncoding = "VK_ENCODING"
	FieldEmail    = "VK_EMAIL"
	FieldPhone    = "VK_PHONE"
	FieldLang     = "VK_LANG"
)

// maxFieldChars is the largest value length the 3-digit prefix can express.
const maxFieldChars = 999

// Field is a single (key, value) pair. Order matters for signing, so field
// sets are carried as slices, never maps.
type Field struct {
	Key   string
	Value string
}

// Pad prefixes value with its character count in decimal, zero-padded to
// 3 digits. The count is in characters, not bytes: multi-byte UTF-8 values
// count one per rune.
func Pad(value string) (string, error) {
	n := utf8.RuneCountInString(value)
	if n > maxFieldChars {
		return "", fmt.Errorf("%w: %d characters", ErrFieldTooLong, n)
	}
	return fmt.Sprintf("%03d%s", n, value), nil
}

// SignableMessage concatenates Pad(value) for every field not in excluded,
// in the given order. Signing and verification must call this with identical
// field order and exclusion set or signatures will never validate.
func SignableMessage(fields []Field, excluded map[string]bool) (string, error) {
	var b strings.Builder
	for _, f := range fields {
		if excluded[f.Key] {
			continue
		}
		padded, err := Pad(f.Value)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Key, err)
		}
		b.WriteString(padded)
	}
	return b.String(), nil
}
