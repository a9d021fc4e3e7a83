package executor

// target is an object in the response tree together with its response path,
// list indices included.
type target struct {
	object map[string]any
	path   []any
}

// collectTargets returns the objects found at path below root. Lists along the
// path are flattened and null values are skipped.
func collectTargets(root map[string]any, path []string) []target {
	var out []target
	var walk func(node any, rest []string, cur []any)
	walk = func(node any, rest []string, cur []any) {
		switch v := node.(type) {
		case map[string]any:
			if len(rest) == 0 {
				out = append(out, target{object: v, path: cur})
				return
			}
			walk(v[rest[0]], rest[1:], appendAny(cur, rest[0]))
		case []any:
			for i, item := range v {
				walk(item, rest, appendAny(cur, i))
			}
		}
	}
	walk(root, path, nil)
	return out
}

// deepMerge merges source into dst. Nested objects are merged recursively and
// lists element-wise; everything taken from source is copied so one entity
// result can be merged into several objects.
func deepMerge(dst, source map[string]any) {
	for k, sv := range source {
		dv, exists := dst[k]
		if !exists || dv == nil {
			dst[k] = deepCopy(sv)
			continue
		}

		switch s := sv.(type) {
		case map[string]any:
			if d, ok := dv.(map[string]any); ok {
				deepMerge(d, s)
				continue
			}
		case []any:
			if d, ok := dv.([]any); ok && len(d) == len(s) {
				for i := range s {
					dm, dok := d[i].(map[string]any)
					sm, sok := s[i].(map[string]any)
					if dok && sok {
						deepMerge(dm, sm)
					} else if d[i] == nil {
						d[i] = deepCopy(s[i])
					}
				}
				continue
			}
		}
		dst[k] = deepCopy(sv)
	}
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func appendAny(path []any, elem any) []any {
	out := make([]any, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}
