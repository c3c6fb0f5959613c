// Package fixtures provides parsed contracts shared by the analysis test suites.
package fixtures

import "github.com/xkilldash9x/scalpel-contract/api/schemas"

// Bearer builds a single bearer requirement with the given scopes.
func Bearer(scopes ...string) []schemas.SecurityRequirement {
	return []schemas.SecurityRequirement{{Scheme: "bearerAuth", Scopes: scopes}}
}

// Public is an explicitly declared empty requirement set.
func Public() []schemas.SecurityRequirement {
	return []schemas.SecurityRequirement{}
}

// Ref builds a reference to a component schema.
func Ref(name string) *schemas.SchemaRef {
	return &schemas.SchemaRef{Ref: "#/components/schemas/" + name}
}

// JSONResponse builds a 200 application/json response.
func JSONResponse(ref *schemas.SchemaRef) []schemas.Response {
	return []schemas.Response{{Status: "200", ContentTypes: []string{"application/json"}, Schema: ref}}
}

// Scalars builds a property map of plain string properties.
func Scalars(names ...string) map[string]schemas.Property {
	props := make(map[string]schemas.Property, len(names))
	for _, n := range names {
		props[n] = schemas.Property{Type: "string"}
	}
	return props
}

// SSNContract is a single public operation returning a schema with an ssn field.
func SSNContract() *schemas.Contract {
	return &schemas.Contract{
		Title:   "ssn",
		Version: "1.0.0",
		Operations: []schemas.Operation{
			{
				Method:           "GET",
				Path:             "/people/{id}",
				SecurityDeclared: true,
				Security:         Public(),
				Parameters:       []schemas.Parameter{{Name: "id", In: "path", Required: true, Type: "string"}},
				Responses:        JSONResponse(Ref("Person")),
			},
		},
		Schemas: map[string]schemas.Schema{
			"Person": {Type: "object", Properties: Scalars("id", "name", "ssn")},
		},
	}
}

// ShadowContract declares /users/{id} and /users/current, parameterized path first
// unless reversed.
func ShadowContract(reversed bool) *schemas.Contract {
	param := schemas.Operation{
		Method:           "GET",
		Path:             "/users/{id}",
		Security:         Bearer("read:users"),
		Parameters:       []schemas.Parameter{{Name: "id", In: "path", Required: true}},
		Responses:        JSONResponse(Ref("User")),
		SecurityDeclared: true,
	}
	static := schemas.Operation{
		Method:           "GET",
		Path:             "/users/current",
		Security:         Bearer("read:users"),
		SecurityDeclared: true,
		Parameters:       []schemas.Parameter{{Name: "X-Trace", In: "header"}},
		Responses:        JSONResponse(Ref("User")),
	}
	ops := []schemas.Operation{param, static}
	if reversed {
		ops = []schemas.Operation{static, param}
	}
	return &schemas.Contract{
		Title:      "shadow",
		Version:    "1.0.0",
		Operations: ops,
		Schemas: map[string]schemas.Schema{
			"User": {Type: "object", Properties: Scalars("id", "name")},
		},
	}
}

// TwinSchemasContract has two structurally identical schemas under different names.
func TwinSchemasContract() *schemas.Contract {
	return &schemas.Contract{
		Title:   "twins",
		Version: "1.0.0",
		Schemas: map[string]schemas.Schema{
			"UserA": {Type: "object", Description: "first", Properties: Scalars("id", "name", "email")},
			"UserB": {Type: "object", Description: "second", Properties: Scalars("id", "name", "email")},
		},
	}
}

// SampleContract exercises every analyzer: a cyclic schema, a dangling reference,
// public and protected operations, a destructive operation under a read scope, an
// over-scoped read, a shadowed path and an orphaned operation.
func SampleContract() *schemas.Contract {
	return &schemas.Contract{
		Title:    "sample",
		Version:  "2.1.0",
		Security: Bearer("read:users"),
		Operations: []schemas.Operation{
			{
				Method:           "GET",
				Path:             "/users/{id}",
				SecurityDeclared: true,
				Security:         Public(),
				Parameters:       []schemas.Parameter{{Name: "id", In: "path", Required: true}},
				Responses:        JSONResponse(Ref("User")),
			},
			{
				Method:    "GET",
				Path:      "/users/current",
				Responses: JSONResponse(Ref("User")),
			},
			{
				Method:     "DELETE",
				Path:       "/users/{id}",
				Parameters: []schemas.Parameter{{Name: "id", In: "path", Required: true}},
				Responses:  []schemas.Response{{Status: "204"}},
			},
			{
				Method:              "PATCH",
				Path:                "/users/{id}/role",
				Parameters:          []schemas.Parameter{{Name: "id", In: "path", Required: true}},
				RequestBody:         Ref("RoleChange"),
				RequestContentTypes: []string{"application/json"},
				Responses:           JSONResponse(Ref("User")),
			},
			{
				Method:              "POST",
				Path:                "/login",
				SecurityDeclared:    true,
				RequestBody:         Ref("Credentials"),
				RequestContentTypes: []string{"application/json"},
				Responses: JSONResponse(&schemas.SchemaRef{Inline: &schemas.Schema{
					Type:       "object",
					Properties: map[string]schemas.Property{"access_token": {Type: "string"}, "expires_in": {Type: "integer"}},
				}}),
			},
			{
				Method:           "GET",
				Path:             "/orders",
				SecurityDeclared: true,
				Parameters:       []schemas.Parameter{{Name: "page", In: "query"}},
				Responses: JSONResponse(&schemas.SchemaRef{Inline: &schemas.Schema{
					Type:  "array",
					Items: Ref("Order"),
				}}),
			},
			{
				Method:           "GET",
				Path:             "/admin/settings",
				SecurityDeclared: true,
				Security:         Bearer("admin", "read:settings", "write:settings"),
				Responses:        JSONResponse(Ref("Settings")),
			},
			{
				Method:    "GET",
				Path:      "/health",
				Responses: []schemas.Response{{Status: "200"}},
			},
			{
				Method:     "GET",
				Path:       "/categories/{id}",
				Parameters: []schemas.Parameter{{Name: "id", In: "path", Required: true}},
				Responses:  JSONResponse(Ref("Category")),
			},
		},
		Schemas: map[string]schemas.Schema{
			"User": {
				Type: "object",
				Properties: map[string]schemas.Property{
					"id":      {Type: "string"},
					"name":    {Type: "string"},
					"email":   {Type: "string", Format: "email"},
					"role":    {Type: "string"},
					"address": {Ref: "#/components/schemas/Address"},
				},
				Required: []string{"id", "name"},
			},
			"Address": {Type: "object", Properties: Scalars("street", "city", "zip")},
			"Credentials": {
				Type:       "object",
				Properties: map[string]schemas.Property{"username": {Type: "string"}, "password": {Type: "string", Format: "password"}},
			},
			"RoleChange": {Type: "object", Properties: Scalars("role")},
			"Order": {
				Type: "object",
				Properties: map[string]schemas.Property{
					"id":       {Type: "string"},
					"total":    {Type: "number"},
					"customer": {Ref: "#/components/schemas/User"},
					"coupon":   {Ref: "#/components/schemas/Coupon"},
				},
			},
			"Settings": {Type: "object", Properties: Scalars("theme", "locale")},
			"Category": {
				Type: "object",
				Properties: map[string]schemas.Property{
					"id":       {Type: "string"},
					"parent":   {Ref: "#/components/schemas/Category"},
					"children": {Type: "array", ItemsRef: "#/components/schemas/Category"},
				},
			},
		},
	}
}
