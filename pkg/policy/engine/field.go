package engine

import (
	"reflect"
	"strconv"
	"strings"
)

// Fixed evaluation context keys.
const (
	FieldEnvironment        = "environment"
	FieldUserRole           = "userRole"
	FieldUserID             = "userId"
	FieldDataClassification = "dataClassification"
	FieldAgentID            = "agentId"
	FieldSessionID          = "sessionId"
	FieldActionName         = "actionName"
	FieldActionCategory     = "actionCategory"
	FieldActionDescription  = "actionDescription"

	FieldParameters       = "parameters"
	FieldMetadata         = "metadata"
	FieldCustomAttributes = "customAttributes"
)

// BuildContext flattens an action and its request context into the map
// conditions are evaluated against.
//
// Parameters, metadata and custom attributes are merged at the top level in
// that order, so a later source overwrites an earlier key. The fixed context
// keys and then the action keys are written last. The raw maps stay
// reachable as "parameters.<key>", "metadata.<key>" and
// "customAttributes.<key>".
func BuildContext(action *ActionRequest, reqCtx *RequestContext) map[string]interface{} {
	if action == nil {
		action = &ActionRequest{}
	}
	if reqCtx == nil {
		reqCtx = &RequestContext{}
	}

	flat := make(map[string]interface{}, len(action.Parameters)+len(action.Metadata)+len(reqCtx.CustomAttributes)+12)
	for k, v := range action.Parameters {
		flat[k] = v
	}
	for k, v := range action.Metadata {
		flat[k] = v
	}
	for k, v := range reqCtx.CustomAttributes {
		flat[k] = v
	}

	flat[FieldEnvironment] = reqCtx.Environment
	flat[FieldUserRole] = reqCtx.UserRole
	flat[FieldUserID] = reqCtx.UserID
	flat[FieldDataClassification] = reqCtx.DataClassification
	flat[FieldAgentID] = agentID(action, reqCtx)
	flat[FieldSessionID] = sessionID(action, reqCtx)

	flat[FieldActionName] = action.Name
	flat[FieldActionCategory] = action.Category
	flat[FieldActionDescription] = action.Description

	flat[FieldParameters] = orEmpty(action.Parameters)
	flat[FieldMetadata] = orEmpty(action.Metadata)
	flat[FieldCustomAttributes] = orEmpty(reqCtx.CustomAttributes)

	return flat
}

// Subject returns the agent and session ids an evaluation is attributed
// to. Ids on the action win over those in the context; matching, cache keys
// and rate limit keys all use this precedence. Either argument may be nil.
func Subject(action *ActionRequest, reqCtx *RequestContext) (agent, session string) {
	if action != nil {
		agent, session = action.AgentID, action.SessionID
	}
	if reqCtx != nil {
		if agent == "" {
			agent = reqCtx.AgentID
		}
		if session == "" {
			session = reqCtx.SessionID
		}
	}
	return agent, session
}

func agentID(action *ActionRequest, reqCtx *RequestContext) string {
	agent, _ := Subject(action, reqCtx)
	return agent
}

func sessionID(action *ActionRequest, reqCtx *RequestContext) string {
	_, session := Subject(action, reqCtx)
	return session
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// ResolveField looks a field up in a flattened context. An exact key wins;
// otherwise the path is split on dots and walked through nested maps and
// slices (numeric segments index slices). The second result is false when
// the field is absent.
func ResolveField(ctx map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := ctx[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current interface{} = ctx
	for _, part := range strings.Split(path, ".") {
		next, ok := step(current, part)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// step descends one path segment into a map or slice.
func step(container interface{}, part string) (interface{}, bool) {
	switch c := container.(type) {
	case map[string]interface{}:
		v, ok := c[part]
		return v, ok
	case map[string]string:
		v, ok := c[part]
		return v, ok
	case []interface{}:
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case nil:
		return nil, false
	}

	// Typed maps and slices from callers that did not decode through JSON.
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(part).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(part)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	}
	return nil, false
}
