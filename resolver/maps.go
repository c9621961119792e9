package resolver

import (
	"fmt"
	"strings"
)

type mapping struct {
	start uintptr
	end   uintptr
	perms string
	path  string
}

func (m mapping) readable() bool   { return strings.HasPrefix(m.perms, "r") }
func (m mapping) executable() bool { return len(m.perms) >= 3 && m.perms[2] == 'x' }

func parseMaps(raw string) []mapping {
	lines := strings.Split(raw, "\n")
	entries := make([]mapping, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		rangeParts := strings.SplitN(fields[0], "-", 2)
		if len(rangeParts) != 2 {
			continue
		}
		start, startErr := parseHexUintptr(rangeParts[0])
		end, endErr := parseHexUintptr(rangeParts[1])
		if startErr != nil || endErr != nil || end <= start {
			continue
		}
		path := ""
		if len(fields) >= 6 {
			path = strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)")
		}
		entries = append(entries, mapping{
			start: start,
			end:   end,
			perms: fields[1],
			path:  path,
		})
	}
	return entries
}

func parseHexUintptr(s string) (uintptr, error) {
	var out uintptr
	for _, r := range s {
		out <<= 4
		switch {
		case r >= '0' && r <= '9':
			out += uintptr(r - '0')
		case r >= 'a' && r <= 'f':
			out += uintptr(r-'a') + 10
		case r >= 'A' && r <= 'F':
			out += uintptr(r-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex string %q", s)
		}
	}
	return out, nil
}

// scanWindow clamps a scan of n bytes at addr to the executable mapping that
// contains addr. needsRead is set when the mapping is execute-only and must be
// made readable before the bytes can be decoded.
func scanWindow(maps []mapping, addr uintptr, n int) (window int, needsRead bool, m mapping, err error) {
	for _, entry := range maps {
		if addr < entry.start || addr >= entry.end {
			continue
		}
		if !entry.executable() {
			return 0, false, entry, fmt.Errorf("resolver: mapping %#x-%#x (%s) is not executable", entry.start, entry.end, entry.path)
		}
		window = n
		if avail := int(entry.end - addr); avail < window {
			window = avail
		}
		return window, !entry.readable(), entry, nil
	}
	return 0, false, mapping{}, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
}
