package utils

import "encoding/json"

// MustMarshalJSON marshals v and panics on failure. Only use it for values
// built by this service, never for external input.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}
