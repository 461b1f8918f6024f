package netevent

import (
	"encoding/json"
	"net/url"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// GraphQLMeta contains GraphQL operation metadata found in a request.
type GraphQLMeta struct {
	// OperationType is the GraphQL operation type (query, mutation, subscription).
	OperationType string `json:"operationType,omitempty"`

	// OperationName is the GraphQL operation name (if named).
	OperationName string `json:"operationName,omitempty"`

	// Variables contains the operation variables.
	Variables map[string]any `json:"variables,omitempty"`
}

// ExtractGraphQL looks for a GraphQL operation in a decoded request body or,
// failing that, in the query parameters of a GET request. It returns nil when
// the request does not look like a GraphQL call.
func ExtractGraphQL(body *Body, query url.Values) *GraphQLMeta {
	var (
		doc       string
		name      string
		variables map[string]any
		found     bool
	)

	if m, ok := graphQLObject(body); ok {
		doc, _ = m["query"].(string)
		name, _ = m["operationName"].(string)
		variables, _ = m["variables"].(map[string]any)
		found = doc != "" || name != ""
	}
	if !found && query.Get("query") != "" {
		doc = query.Get("query")
		name = query.Get("operationName")
		if raw := query.Get("variables"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &variables)
		}
		found = true
	}
	if !found {
		return nil
	}

	meta := &GraphQLMeta{OperationName: name, Variables: variables}
	if doc == "" {
		return meta
	}

	parsed, err := parser.ParseQuery(&ast.Source{Input: doc})
	if err != nil || parsed == nil || len(parsed.Operations) == 0 {
		return meta
	}

	op := parsed.Operations[0]
	if name != "" {
		if named := parsed.Operations.ForName(name); named != nil {
			op = named
		}
	}
	meta.OperationType = string(op.Operation)
	if meta.OperationName == "" {
		meta.OperationName = op.Name
	}
	return meta
}

// graphQLObject returns the JSON object that may hold a GraphQL request.
// Batched requests use the first element.
func graphQLObject(body *Body) (map[string]any, bool) {
	if body == nil || body.Kind != BodyJSON {
		return nil, false
	}
	switch v := body.JSON.(type) {
	case map[string]any:
		return v, true
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		m, ok := v[0].(map[string]any)
		return m, ok
	default:
		return nil, false
	}
}
