package p2p

import (
	"encoding/json"
	"net/http"
)

func decodeJSONBody(r *http.Request, out *map[string]any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func encodeJSON(w http.ResponseWriter, v map[string]any) {
	json.NewEncoder(w).Encode(v)
}
