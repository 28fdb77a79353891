// Package ytdlp turns a browser "copy as cURL" capture into an equivalent
// yt-dlp invocation. Everything here is pure: no I/O and no shared state.
package ytdlp

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// quoted matches one shell-quoted argument. Submatch 1 is an ANSI-C
// $'...' body, 2 a 'single' body and 3 a "double" body.
const quoted = `(?:\$'((?:[^'\\]|\\.)*)'|'([^']*)'|"((?:[^"\\]|\\.)*)")`

var (
	urlPattern    = regexp.MustCompile(`\bcurl\s+` + quoted)
	headerPattern = regexp.MustCompile(`(?:^|\s)(?:-H|--header)\s+` + quoted)
	cookiePattern = regexp.MustCompile(`(?:^|\s)(?:-b|--cookie)\s+` + quoted)
)

// Header is one request header in capture order.
type Header struct {
	Name  string
	Value string
}

// RequestInfo is what Parse extracts from a capture. Missing values are
// empty strings, never absent.
type RequestInfo struct {
	URL       string
	Referer   string
	UserAgent string
	Cookie    string
	// Headers holds every -H flag in first-seen order; a repeated name keeps
	// its first position and takes the last value.
	Headers []Header
}

// Get returns the value of the named header, matched case-insensitively.
func (ri RequestInfo) Get(name string) (string, bool) {
	for _, h := range ri.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Parse extracts URL, Referer, User-Agent, cookie and headers from a captured
// curl command. Input that does not look like a curl command yields an empty
// RequestInfo.
func Parse(captured string) RequestInfo {
	var info RequestInfo

	if m := urlPattern.FindStringSubmatch(captured); m != nil {
		info.URL = argument(m)
	}
	if m := cookiePattern.FindStringSubmatch(captured); m != nil {
		info.Cookie = argument(m)
	}

	index := make(map[string]int)
	for _, m := range headerPattern.FindAllStringSubmatch(captured, -1) {
		name, value, ok := splitHeader(argument(m))
		if !ok {
			continue
		}
		if i, seen := index[name]; seen {
			info.Headers[i].Value = value
			continue
		}
		index[name] = len(info.Headers)
		info.Headers = append(info.Headers, Header{Name: name, Value: value})
	}

	info.Referer, _ = info.Get("Referer")
	info.UserAgent, _ = info.Get("User-Agent")
	return info
}

// argument returns the unquoted text of a quoted submatch. At most one of
// the alternatives is non-empty.
func argument(m []string) string {
	switch {
	case m[1] != "":
		return unescapeANSI(m[1])
	case m[3] != "":
		return unescapeDouble(m[3])
	}
	return m[2]
}

// splitHeader splits "Name: value". Headers without a colon or with an empty
// value are skipped.
func splitHeader(raw string) (name, value string, ok bool) {
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(raw[:i])
	value = strings.TrimSpace(raw[i+1:])
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

var doubleUnescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\$`, `$`, "\\`", "`")

func unescapeDouble(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return doubleUnescaper.Replace(s)
}

// unescapeANSI decodes the backslash escapes bash allows inside $'...'.
// Unknown escapes are kept as written.
func unescapeANSI(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'e', 'E':
			b.WriteByte(0x1b)
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case '\\', '\'', '"', '?':
			b.WriteByte(e)
		case 'x':
			n, v := hexDigits(s[i+1:], 2)
			if n == 0 {
				b.WriteString(`\x`)
				continue
			}
			b.WriteByte(byte(v))
			i += n
		case 'u', 'U':
			width := 4
			if e == 'U' {
				width = 8
			}
			n, v := hexDigits(s[i+1:], width)
			if n == 0 || !utf8.ValidRune(rune(v)) {
				b.WriteByte('\\')
				b.WriteByte(e)
				continue
			}
			b.WriteRune(rune(v))
			i += n
		case '0', '1', '2', '3', '4', '5', '6', '7':
			n := 1
			for n < 3 && i+n < len(s) && s[i+n] >= '0' && s[i+n] <= '7' {
				n++
			}
			v, _ := strconv.ParseUint(s[i:i+n], 8, 16)
			b.WriteByte(byte(v))
			i += n - 1
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String()
}

// hexDigits parses up to width leading hex digits of s, returning how many
// it consumed and their value.
func hexDigits(s string, width int) (int, uint64) {
	n := 0
	for n < width && n < len(s) && isHex(s[n]) {
		n++
	}
	if n == 0 {
		return 0, 0
	}
	v, _ := strconv.ParseUint(s[:n], 16, 32)
	return n, v
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
