package schema

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

var (
	cmdIDLine   = regexp.MustCompile(`^//\s*CmdId:\s*(\d+)\s*$`)
	messageLine = regexp.MustCompile(`^message\s+([A-Za-z_][A-Za-z0-9_]*)\b`)
)

// scanCommandIDs extracts command-id associations from schema source
// text. The grammar carries no id-to-type mapping, so the convention is
// a `// CmdId: N` comment line followed (blank lines permitted) by a
// `message X` declaration. Any other line discards the pending id; a
// pending id never carries past the first non-blank line after it.
func scanCommandIDs(source string) map[int]string {
	out := make(map[int]string)
	pending, havePending := 0, false

	sc := bufio.NewScanner(strings.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue // blank lines do not consume a pending id
		}
		if m := cmdIDLine.FindStringSubmatch(line); m != nil {
			// A new CmdId comment replaces any unconsumed one.
			pending, _ = strconv.Atoi(m[1])
			havePending = true
			continue
		}
		if havePending {
			if m := messageLine.FindStringSubmatch(line); m != nil {
				if old, dup := out[pending]; dup && old != m[1] {
					warnDuplicate(pending, old, m[1])
				}
				out[pending] = m[1]
			}
			havePending = false
		}
	}
	return out
}
