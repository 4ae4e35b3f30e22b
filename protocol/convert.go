package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatUID renders a tag serial number as colon-separated uppercase hex,
// e.g. "04:AB:CD:EF:12:34:56".
func FormatUID(uid []byte) string {
	parts := make([]string, len(uid))
	for i, b := range uid {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// ParseUID accepts a UID in common hex notations ("04:AB:CD", "04ABCD",
// "04 AB CD", "04-AB-CD") and returns the raw bytes.
func ParseUID(uid string) ([]byte, error) {
	if uid == "" {
		return nil, fmt.Errorf("empty UID")
	}
	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	return raw, nil
}
