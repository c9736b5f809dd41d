package sql

import (
	"sort"
	"strings"
	"unicode"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-reconcile/pkg/apperrors"
)

// MaxIdentifierLength bounds schema, table and store names accepted from callers.
const MaxIdentifierLength = 128

// InjectionCheckResult contains the result of an injection check on a value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Name        string // Name of the input that failed the check
	Value       string // The value that was checked
}

// CheckForInjection uses libinjection to detect SQL injection patterns in a
// caller-supplied value. Returns nil if no injection is detected.
//
// Example:
//
//	CheckForInjection("table", "orders")                  // nil
//	CheckForInjection("table", "x'; DROP TABLE users--")  // IsSQLi == true
func CheckForInjection(name, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Name:        name,
		Value:       value,
	}
}

// CheckIdentifier validates a schema, table or store name before it is used
// to filter catalog queries or key stored state. Empty values pass; callers
// decide whether a name is required.
func CheckIdentifier(kind, name string) error {
	if name == "" {
		return nil
	}
	if len(name) > MaxIdentifierLength {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s name exceeds %d characters", kind, MaxIdentifierLength)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return apperrors.Newf(apperrors.CodeInvalidInput, "%s name contains control characters", kind)
	}
	if r := CheckForInjection(kind, name); r != nil {
		return apperrors.Newf(apperrors.CodeInvalidInput,
			"%s name %q rejected: matches SQL injection pattern (fingerprint %s)", kind, name, r.Fingerprint)
	}
	return nil
}

// CheckIdentifiers runs CheckIdentifier over kind -> name pairs and returns
// the first failure in key order.
func CheckIdentifiers(names map[string]string) error {
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := CheckIdentifier(k, names[k]); err != nil {
			return err
		}
	}
	return nil
}
