package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// pathToken is one segment of a dotted path: a field name, an index ([n]),
// or a wildcard ([] meaning "each element of the array").
type pathToken struct {
	field    string
	index    int
	hasIndex bool
	each     bool
}

// parsePath tokenizes "a.b[0].c[]" into a token list.
func parsePath(path string) ([]pathToken, error) {
	var tokens []pathToken
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		field := part
		var idxSpecs []string
		for {
			open := strings.IndexByte(field, '[')
			if open < 0 {
				break
			}
			close := strings.IndexByte(field[open:], ']')
			if close < 0 {
				return nil, fmt.Errorf("unterminated index in path segment %q", part)
			}
			close += open
			idxSpecs = append(idxSpecs, field[open+1:close])
			field = field[:open] + field[close+1:]
		}
		tokens = append(tokens, pathToken{field: field})
		for _, spec := range idxSpecs {
			if spec == "" {
				tokens = append(tokens, pathToken{each: true})
				continue
			}
			n, err := strconv.Atoi(spec)
			if err != nil {
				return nil, fmt.Errorf("invalid array index %q in path segment %q", spec, part)
			}
			tokens = append(tokens, pathToken{index: n, hasIndex: true})
		}
	}
	return tokens, nil
}

// GetPath resolves a dotted path (with optional [n]/[] segments) against the
// payload tree. Missing fields return (nil, false). A [] wildcard segment
// returns a []any of the per-element resolution of the remaining path.
func (p Payload) GetPath(path string) (any, bool) {
	tokens, err := parsePath(path)
	if err != nil {
		return nil, false
	}
	return resolve(p.raw, tokens)
}

func resolve(cur any, tokens []pathToken) (any, bool) {
	if len(tokens) == 0 {
		return cur, cur != nil
	}
	tok := tokens[0]
	rest := tokens[1:]

	switch {
	case tok.each:
		arr, ok := cur.([]any)
		if !ok {
			return nil, false
		}
		out := make([]any, 0, len(arr))
		for _, el := range arr {
			v, ok := resolve(el, rest)
			if ok {
				out = append(out, v)
			} else {
				out = append(out, nil)
			}
		}
		return out, true

	case tok.hasIndex:
		arr, ok := cur.([]any)
		if !ok || tok.index < 0 || tok.index >= len(arr) {
			return nil, false
		}
		return resolve(arr[tok.index], rest)

	default:
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[tok.field]
		if !ok {
			return nil, false
		}
		return resolve(v, rest)
	}
}

// SetPath writes a value at the given dotted path, creating intermediate
// maps/slices as needed. Array wildcard segments are not supported as
// targets (a mapping always writes to a concrete location).
func SetPath(root map[string]any, path string, value any) error {
	tokens, err := parsePath(path)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("empty path")
	}
	return setRecursive(root, tokens, value)
}

func setRecursive(cur map[string]any, tokens []pathToken, value any) error {
	tok := tokens[0]
	if tok.each || tok.hasIndex {
		return fmt.Errorf("cannot use an array segment as the first token of a target path")
	}
	if len(tokens) == 1 {
		cur[tok.field] = value
		return nil
	}

	next := tokens[1]
	switch {
	case next.hasIndex:
		arr, _ := cur[tok.field].([]any)
		for len(arr) <= next.index {
			arr = append(arr, map[string]any{})
		}
		if len(tokens) == 2 {
			arr[next.index] = value
		} else {
			child, ok := arr[next.index].(map[string]any)
			if !ok {
				child = map[string]any{}
			}
			if err := setRecursive(child, tokens[2:], value); err != nil {
				return err
			}
			arr[next.index] = child
		}
		cur[tok.field] = arr
		return nil
	case next.each:
		return fmt.Errorf("cannot target every element of an array in a mapping")
	default:
		child, ok := cur[tok.field].(map[string]any)
		if !ok {
			child = map[string]any{}
		}
		if err := setRecursive(child, tokens[1:], value); err != nil {
			return err
		}
		cur[tok.field] = child
		return nil
	}
}
