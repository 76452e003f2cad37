package internal

import "strconv"

// Flatten turns a decoded JSON object into a single-level map keyed by path.
// Objects join with "." and array elements use "[i]"; each array is also kept
// whole under its own path so rules can test membership.
//
//	{"mergePatch": {"tags": ["a"]}} -> {"mergePatch.tags": [a], "mergePatch.tags[0]": "a"}
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

// MergeData overlays extra onto the flattened data. Keys in extra win.
func MergeData(flat map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(flat)+len(extra))
	for key, value := range flat {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		if len(typed) == 0 {
			out[path] = typed
			return
		}
		for key, child := range typed {
			flattenInto(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		out[path] = value
	}
}
