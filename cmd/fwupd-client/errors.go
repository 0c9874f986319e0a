package main

import (
	"errors"
	"strings"
)

// formatError renders err as "error: <msg>" followed by one
// "    caused by: <msg>" line for every error it wraps, outermost first.
// Each line carries only the text its level added. Errors joined with
// errors.Join or wrapped with several %w verbs get a line per branch.
func formatError(err error) string {
	lines := causes(err, "", nil)
	if len(lines) == 0 {
		return "error: "
	}

	var b strings.Builder
	b.WriteString("error: ")
	b.WriteString(lines[0])
	for _, line := range lines[1:] {
		b.WriteString("\n    caused by: ")
		b.WriteString(line)
	}
	return b.String()
}

// causes appends the lines of err to lines. prefix is text an outer error
// put directly in front of err, like ".signals" in ".signals[0]: ...".
func causes(err error, prefix string, lines []string) []string {
	if err == nil {
		return lines
	}
	msg := err.Error()

	if wrapped, ok := err.(interface{ Unwrap() []error }); ok {
		var walk []error
		rest := msg
		for _, child := range wrapped.Unwrap() {
			if child == nil || isLabel(msg, child) {
				continue
			}
			if i := strings.LastIndex(rest, child.Error()); i >= 0 {
				rest = rest[:i] + rest[i+len(child.Error()):]
			}
			walk = append(walk, child)
		}
		rest = strings.Trim(rest, ": \n")
		if rest != "" {
			lines = append(lines, prefix+rest)
			prefix = ""
		}
		for _, child := range walk {
			lines = causes(child, prefix, lines)
		}
		return lines
	}

	next := errors.Unwrap(err)
	if next == nil {
		return append(lines, prefix+msg)
	}
	inner := next.Error()
	switch {
	case msg == inner:
		return causes(next, prefix, lines)
	case isLabel(msg, next):
		return append(lines, prefix+msg)
	case strings.HasSuffix(msg, ": "+inner):
		lines = append(lines, prefix+strings.TrimSuffix(msg, ": "+inner))
		return causes(next, "", lines)
	case strings.HasSuffix(msg, inner):
		return causes(next, prefix+strings.TrimSuffix(msg, inner), lines)
	default:
		lines = append(lines, prefix+msg)
		return causes(next, "", lines)
	}
}

// isLabel reports whether err is a sentinel that msg starts with, as in
// fmt.Errorf("%w: details", ErrSentinel). Its text stays on the line of msg.
func isLabel(msg string, err error) bool {
	if errors.Unwrap(err) != nil {
		return false
	}
	if _, ok := err.(interface{ Unwrap() []error }); ok {
		return false
	}
	return strings.HasPrefix(msg, err.Error()+": ")
}
