// Package util holds small string helpers shared by the command builders and
// the table renderers.
package util

import (
	"strconv"
	"strings"
)

// ShellQuote wraps s in single quotes so a POSIX shell takes it literally.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellQuotePreserveTilde quotes a remote path but leaves a leading ~/ for
// the remote shell to expand.
func ShellQuotePreserveTilde(path string) string {
	switch {
	case path == "~":
		return path
	case strings.HasPrefix(path, "~/"):
		return "~/" + ShellQuote(path[2:])
	}
	return ShellQuote(path)
}

// JoinInts formats ints joined by sep.
func JoinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}
