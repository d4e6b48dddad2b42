package subscription

// DeepEqual implements the structural equality spec §9 requires for query
// push dedup: arrays are ordered, objects are unordered, numbers compare by
// value, strings by code unit, and null is distinct from absent. Operating
// directly on decoded interface{} trees avoids re-marshaling to JSON on the
// hot path.
func DeepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, present := bv[k]
			if !present || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return a == b
	}
}
