package ics

import "strings"

// contentLine is one parsed RFC5545 content line:
//
//	NAME;PARAM=value;PARAM="quoted,value":property value
//
// Parameter values keep their declared order per key; lookups are
// case-insensitive on both name and parameter keys.
type contentLine struct {
	Name   string
	Params map[string][]string
	Value  string
}

// parseContentLine splits one logical line into name, parameters and value.
// Returns false for lines that have no unquoted ':' separator or an empty
// property name.
func parseContentLine(line string) (contentLine, bool) {
	sep := -1
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if !inQuotes {
				sep = i
			}
		}
		if sep >= 0 {
			break
		}
	}
	if sep < 0 {
		return contentLine{}, false
	}

	head := line[:sep]
	value := line[sep+1:]

	segs := splitUnquoted(head, ';')
	name := strings.ToUpper(strings.TrimSpace(segs[0]))
	if name == "" {
		return contentLine{}, false
	}

	cl := contentLine{Name: name, Value: value}
	for _, seg := range segs[1:] {
		eq := strings.IndexByte(seg, '=')
		if eq <= 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(seg[:eq]))
		for _, v := range splitUnquoted(seg[eq+1:], ',') {
			v = strings.Trim(v, `"`)
			if cl.Params == nil {
				cl.Params = make(map[string][]string)
			}
			cl.Params[key] = append(cl.Params[key], v)
		}
	}
	return cl, true
}

// Param returns the first value of the named parameter, or "".
func (c contentLine) Param(key string) string {
	vs := c.Params[strings.ToUpper(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// splitUnquoted splits s on sep, ignoring separators inside double quotes.
func splitUnquoted(s string, sep byte) []string {
	var out []string
	start := 0
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// unescapeText reverses RFC5545 TEXT escaping (\n, \N, \, \; \\).
func unescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
