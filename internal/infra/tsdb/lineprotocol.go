// Package tsdb is the gateway to the time-series store: SQL reads of
// telemetry and user commands, line-protocol writes of computed commands.
// All calls retry transient failures with bounded exponential backoff.
package tsdb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Raw is a field value emitted into line protocol verbatim, without
// quoting. Command booleans use Raw("true")/Raw("false") so the stored
// field is the literal true/false rather than t/f.
type Raw string

// FormatLine renders one line-protocol record with nanosecond precision.
// Tag keys are emitted in sorted order; spaces, commas and equals signs in
// tag values are escaped; string fields are double-quoted with quote and
// backslash escaping; integers get an i suffix; booleans map to t/f.
func FormatLine(measurement string, tags map[string]string, fields map[string]any, ts time.Time) string {
	var b strings.Builder
	b.WriteString(escapeMeasurement(measurement))

	tagKeys := make([]string, 0, len(tags))
	for k := range tags {
		tagKeys = append(tagKeys, k)
	}
	sort.Strings(tagKeys)
	for _, k := range tagKeys {
		b.WriteByte(',')
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(escapeTag(tags[k]))
	}

	b.WriteByte(' ')
	fieldKeys := make([]string, 0, len(fields))
	for k := range fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	for i, k := range fieldKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeTag(k))
		b.WriteByte('=')
		b.WriteString(formatFieldValue(fields[k]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	return b.String()
}

func formatFieldValue(v any) string {
	switch t := v.(type) {
	case Raw:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.FormatInt(int64(t), 10) + "i"
	case int64:
		return strconv.FormatInt(t, 10) + "i"
	case bool:
		if t {
			return "t"
		}
		return "f"
	case string:
		return strconv.Quote(t)
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}

func escapeMeasurement(s string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `).Replace(s)
}

func escapeTag(s string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`).Replace(s)
}

// ParseLine decodes one line-protocol record produced by FormatLine.
// Used by the round-trip tests.
func ParseLine(line string) (measurement string, tags map[string]string, fields map[string]any, ts time.Time, err error) {
	tags = make(map[string]string)
	fields = make(map[string]any)

	head, rest, ok := splitUnescaped(line, ' ')
	if !ok {
		return "", nil, nil, time.Time{}, fmt.Errorf("parse line: missing field section")
	}
	fieldPart, tsPart, hasTS := splitLastSpace(rest)

	parts := splitAllUnescaped(head, ',')
	measurement = unescapeTag(parts[0])
	for _, p := range parts[1:] {
		k, v, ok := splitUnescaped(p, '=')
		if !ok {
			return "", nil, nil, time.Time{}, fmt.Errorf("parse tag %q", p)
		}
		tags[unescapeTag(k)] = unescapeTag(v)
	}

	for _, p := range splitAllUnescaped(fieldPart, ',') {
		k, v, ok := splitUnescaped(p, '=')
		if !ok {
			return "", nil, nil, time.Time{}, fmt.Errorf("parse field %q", p)
		}
		fields[unescapeTag(k)], err = parseFieldValue(v)
		if err != nil {
			return "", nil, nil, time.Time{}, err
		}
	}

	if hasTS {
		nanos, perr := strconv.ParseInt(tsPart, 10, 64)
		if perr != nil {
			return "", nil, nil, time.Time{}, fmt.Errorf("parse timestamp %q: %w", tsPart, perr)
		}
		ts = time.Unix(0, nanos)
	}
	return measurement, tags, fields, ts, nil
}

func parseFieldValue(s string) (any, error) {
	switch {
	case s == "t":
		return true, nil
	case s == "f":
		return false, nil
	case s == "true":
		return Raw("true"), nil
	case s == "false":
		return Raw("false"), nil
	case strings.HasPrefix(s, `"`):
		return strconv.Unquote(s)
	case strings.HasSuffix(s, "i"):
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "i"), 10, 64)
		return n, err
	default:
		return strconv.ParseFloat(s, 64)
	}
}

// splitUnescaped splits at the first unescaped occurrence of sep.
func splitUnescaped(s string, sep byte) (string, string, bool) {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\':
			i++
		case s[i] == '"':
			inQuotes = !inQuotes
		case s[i] == sep && !inQuotes:
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func splitAllUnescaped(s string, sep byte) []string {
	var out []string
	for {
		head, rest, ok := splitUnescaped(s, sep)
		out = append(out, head)
		if !ok {
			return out
		}
		s = rest
	}
}

// splitLastSpace separates the trailing timestamp from the field section.
func splitLastSpace(s string) (string, string, bool) {
	inQuotes := false
	last := -1
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\':
			i++
		case s[i] == '"':
			inQuotes = !inQuotes
		case s[i] == ' ' && !inQuotes:
			last = i
		}
	}
	if last < 0 {
		return s, "", false
	}
	return s[:last], s[last+1:], true
}

func unescapeTag(s string) string {
	return strings.NewReplacer(`\,`, ",", `\ `, " ", `\=`, "=").Replace(s)
}
