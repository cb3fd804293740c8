package order

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	guestName    = "guest"
	recordSuffix = ".csv"
)

var recordKeyPattern = regexp.MustCompile(`^([1-9][0-9]*)_([A-Za-z0-9]+)$`)

// SanitizeName keeps the ASCII letters and digits of name. A name with none
// of them becomes "guest".
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return guestName
	}
	return b.String()
}

// RecordKey builds "<n>_<sanitized name>".
func RecordKey(n int64, customerName string) string {
	return fmt.Sprintf("%d_%s", n, SanitizeName(customerName))
}

// ParseRecordKey extracts the order number from a record key.
func ParseRecordKey(key string) (int64, error) {
	m := recordKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return 0, fmt.Errorf("malformed record key %q", key)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed record key %q: %w", key, err)
	}
	return n, nil
}
