package diff

import "reflect"

// normalize maps a field value onto a canonical shape so desired documents
// (typed Go values) compare cleanly against live documents (JSON-decoded
// values): all numbers become float64, typed slices become []any, typed
// maps become map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string:
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				return v
			}
			out[key] = normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

// valueEqual compares two field values after normalization.
func valueEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}
