package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTemplate is returned for malformed templates or missing arguments.
var ErrTemplate = errors.New("gateway: bad template")

// Format substitutes positional arguments into template. Slots are written
// {} (numbered automatically from zero) or {N}; {{ and }} produce literal
// braces. Automatic and explicit numbering cannot be mixed.
func Format(template string, args ...string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	next := 0
	auto, manual := false, false
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed '{' at offset %d", ErrTemplate, i)
			}
			field := template[i+1 : i+1+end]
			var idx int
			if field == "" {
				if manual {
					return "", fmt.Errorf("%w: cannot mix {} and {N} slots", ErrTemplate)
				}
				auto = true
				idx = next
				next++
			} else {
				if auto {
					return "", fmt.Errorf("%w: cannot mix {} and {N} slots", ErrTemplate)
				}
				manual = true
				n, err := strconv.Atoi(field)
				if err != nil || n < 0 {
					return "", fmt.Errorf("%w: invalid slot {%s}", ErrTemplate, field)
				}
				idx = n
			}
			if idx >= len(args) {
				return "", fmt.Errorf("%w: slot %d has no argument (got %d)", ErrTemplate, idx, len(args))
			}
			b.WriteString(args[idx])
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrTemplate, i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
