package parser

// HasBinary reports whether data contains a []byte anywhere in its
// JSON-shaped value tree.
func HasBinary(data any) bool {
	switch d := data.(type) {
	case nil:
		return false
	case []byte:
		return true
	case []any:
		for _, v := range d {
			if HasBinary(v) {
				return true
			}
		}
	case map[string]any:
		for _, v := range d {
			if HasBinary(v) {
				return true
			}
		}
	}
	return false
}

// DeconstructPacket replaces every []byte in data with a placeholder object
// and returns the collected buffers in placeholder order.
func DeconstructPacket(data any) (any, [][]byte) {
	buffers := [][]byte{}
	return deconstruct(data, &buffers), buffers
}

func deconstruct(data any, buffers *[][]byte) any {
	switch d := data.(type) {
	case []byte:
		placeholder := map[string]any{"_placeholder": true, "num": len(*buffers)}
		*buffers = append(*buffers, d)
		return placeholder
	case []any:
		out := make([]any, len(d))
		for i, v := range d {
			out[i] = deconstruct(v, buffers)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			out[k] = deconstruct(v, buffers)
		}
		return out
	default:
		return data
	}
}

// ReconstructPacket substitutes the collected attachment buffers back into
// the placeholder objects produced by DeconstructPacket.
func ReconstructPacket(data any, buffers [][]byte) (any, error) {
	switch d := data.(type) {
	case []any:
		out := make([]any, len(d))
		for i, v := range d {
			r, err := ReconstructPacket(v, buffers)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		if isPlaceholder(d) {
			num, ok := placeholderNum(d["num"])
			if !ok || num < 0 || num >= len(buffers) {
				return nil, ErrMalformedFrame
			}
			return buffers[num], nil
		}
		out := make(map[string]any, len(d))
		for k, v := range d {
			r, err := ReconstructPacket(v, buffers)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	default:
		return data, nil
	}
}

func isPlaceholder(m map[string]any) bool {
	if len(m) != 2 {
		return false
	}
	p, ok := m["_placeholder"].(bool)
	return ok && p
}

func placeholderNum(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
