package app

import (
	"log/slog"
	"strconv"
	"strings"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBright = "\x1b[1m"
	ansiDim    = "\x1b[2m"

	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiBlue + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return ansiCyan + method + ansiReset
	}
}

func colorizeStatusCode(code int, color bool) string {
	s := strconv.Itoa(code)
	if !color {
		return s
	}
	switch {
	case code >= 500:
		return ansiRed + s + ansiReset
	case code >= 400:
		return ansiYellow + s + ansiReset
	case code >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 200:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "server_error":
		return ansiRed + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	case "redirect":
		return ansiCyan + result + ansiReset
	default:
		return ansiGreen + result + ansiReset
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}

// stripANSI removes SGR escape sequences so width math works on what the
// terminal actually renders.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			if j < len(s) {
				i = j + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// wrapSegments lays segments out into lines of at most width visual columns.
// Continuation lines are prefixed with contPrefix; a single segment wider
// than the line is truncated with an ellipsis.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width <= 0 {
		return []string{strings.Join(segments, sep)}
	}

	var (
		lines []string
		cur   strings.Builder
		curW  int
	)

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		lines = append(lines, cur.String())
		cur.Reset()
		curW = 0
	}

	sepW := visualLen(sep)
	prefixW := visualLen(contPrefix)

	for _, seg := range segments {
		segW := visualLen(seg)

		avail := width
		if curW == 0 && len(lines) > 0 {
			avail = width - prefixW
		}

		if segW > avail && curW == 0 {
			seg = truncateVisual(seg, avail)
			segW = visualLen(seg)
		}

		if curW > 0 && curW+sepW+segW > width {
			flush()
			cur.WriteString(contPrefix)
			curW = prefixW
			if segW > width-prefixW {
				seg = truncateVisual(seg, width-prefixW)
				segW = visualLen(seg)
			}
			cur.WriteString(seg)
			curW += segW
			continue
		}

		if curW > 0 {
			cur.WriteString(sep)
			curW += sepW
		}
		cur.WriteString(seg)
		curW += segW
	}
	flush()

	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

func truncateVisual(s string, width int) string {
	if width <= 1 {
		return "…"
	}
	r := []rune(stripANSI(s))
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
