package capability

// IntArg coerces an integer input field that may arrive as a Go int or as a
// JSON-decoded float64. Schema validation has already confirmed the field is
// numeric; this only normalizes the representation.
func IntArg(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
