package hosts

import (
	"bytes"

	"github.com/auto-dns/docker-hosts-sync/internal/domain"
)

const (
	BeginMarker = "# BEGIN docker-hosts-sync managed block, do not edit"
	EndMarker   = "# END docker-hosts-sync managed block"
)

// Render produces the hosts file content for snap. Everything outside the
// managed block in previous is kept byte for byte; if previous has no managed
// block one is appended.
func Render(snap domain.Snapshot, previous []byte) []byte {
	before, after, found := splitManaged(previous)

	var buf bytes.Buffer
	buf.Grow(len(previous) + 64*snap.Len())

	buf.Write(before)
	if !found && len(before) > 0 && before[len(before)-1] != '\n' {
		buf.WriteByte('\n')
	}

	buf.WriteString(BeginMarker)
	buf.WriteByte('\n')
	for _, entry := range snap.Entries() {
		for _, addr := range entry.Addresses {
			buf.WriteString(addr.String())
			buf.WriteByte(' ')
			buf.WriteString(entry.Name)
			buf.WriteByte('\n')
		}
	}
	buf.WriteString(EndMarker)
	buf.WriteByte('\n')

	buf.Write(after)
	return buf.Bytes()
}

// splitManaged returns the content before the begin marker line and after the
// end marker line. A begin marker without a matching end marker claims the
// rest of the file.
func splitManaged(content []byte) (before, after []byte, found bool) {
	begin, end := -1, -1
	for offset := 0; offset < len(content); {
		lineEnd := bytes.IndexByte(content[offset:], '\n')
		next := len(content)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
		}
		line := bytes.TrimRight(content[offset:next], " \t\r\n")

		if begin < 0 {
			if string(line) == BeginMarker {
				begin = offset
			}
		} else if string(line) == EndMarker {
			end = next
			break
		}
		offset = next
	}

	switch {
	case begin < 0:
		return content, nil, false
	case end < 0:
		return content[:begin], nil, true
	default:
		return content[:begin], content[end:], true
	}
}
