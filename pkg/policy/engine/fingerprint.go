package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintPayload is the canonical form hashed into a cache key. Map
// fields encode with sorted keys.
type fingerprintPayload struct {
	Action             string                 `json:"action"`
	Category           string                 `json:"category"`
	AgentID            string                 `json:"agentId"`
	Parameters         map[string]interface{} `json:"parameters"`
	Environment        string                 `json:"environment"`
	DataClassification string                 `json:"dataClassification"`
	Fields             map[string]fieldValue  `json:"fields,omitempty"`
	Context            map[string]interface{} `json:"context,omitempty"`
}

// fieldValue distinguishes an absent field from one holding nil.
type fieldValue struct {
	Present bool        `json:"p"`
	Value   interface{} `json:"v,omitempty"`
}

// fingerprint hashes everything a verdict can depend on for the given
// snapshot. The second result is false when the context cannot be encoded,
// in which case the verdict is not cached.
func fingerprint(snap *snapshot, action *ActionRequest, reqCtx *RequestContext, flat map[string]interface{}) (string, bool) {
	p := fingerprintPayload{
		Action:             action.Name,
		Category:           action.Category,
		AgentID:            agentID(action, reqCtx),
		Parameters:         action.Parameters,
		Environment:        reqCtx.Environment,
		DataClassification: reqCtx.DataClassification,
	}

	if snap.usesCustom {
		// A custom predicate may read any part of the context.
		p.Context = flat
	} else if len(snap.fields) > 0 {
		p.Fields = make(map[string]fieldValue, len(snap.fields))
		for _, field := range snap.fields {
			v, ok := ResolveField(flat, field)
			p.Fields[field] = fieldValue{Present: ok, Value: v}
		}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}
