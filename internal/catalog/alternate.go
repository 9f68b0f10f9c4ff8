package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAlternate = errors.New("invalid dataset alternate")

// TableName returns the physical table behind an alternate of the form
// "<namespace>:<table>". Any other namespace is rejected.
func TableName(alternate, namespace string) (string, error) {
	ns, table, ok := strings.Cut(alternate, ":")
	if !ok {
		return "", fmt.Errorf("%w: %q is not of the form %s:<table>", ErrInvalidAlternate, alternate, namespace)
	}
	if ns != namespace {
		return "", fmt.Errorf("%w: %q is outside namespace %q", ErrInvalidAlternate, alternate, namespace)
	}
	if table == "" || strings.Contains(table, ":") {
		return "", fmt.Errorf("%w: %q has no valid table name", ErrInvalidAlternate, alternate)
	}
	return table, nil
}
