package schemas

// -- Contract Schemas --
//
// These types describe the parsed, in-memory form of an API contract handed to the
// analysis core. Parsing raw OpenAPI text is the job of an upstream collaborator
// (see internal/contract for the loader used by the CLI).

// Contract is a parsed API contract: operations in declaration order plus the named
// schemas they reference.
type Contract struct {
	Title   string `json:"title" yaml:"title"`
	Version string `json:"version" yaml:"version"`

	// Security is the document-level security requirement set. It applies to every
	// operation that does not declare its own.
	Security []SecurityRequirement `json:"security,omitempty" yaml:"security,omitempty"`

	// Operations preserves the declaration order of the source document. The zombie
	// detector relies on this order to emulate router matching.
	Operations []Operation `json:"operations" yaml:"operations"`

	// Schemas holds the named (component) schemas keyed by name.
	Schemas map[string]Schema `json:"schemas" yaml:"schemas"`
}

// SecurityRequirement is one alternative of an operation's security: a scheme name and
// the scopes/roles it demands. An operation is satisfied by any one requirement.
type SecurityRequirement struct {
	Scheme string   `json:"scheme" yaml:"scheme"`
	Scopes []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Operation is a single method+path pair of the contract.
type Operation struct {
	OperationID string `json:"operation_id,omitempty" yaml:"operation_id,omitempty"`
	Method      string `json:"method" yaml:"method"`
	Path        string `json:"path" yaml:"path"`

	// Security is the operation-level requirement set. It only overrides the document
	// level set when SecurityDeclared is true; an explicitly declared empty list makes
	// the operation public.
	Security         []SecurityRequirement `json:"security,omitempty" yaml:"security,omitempty"`
	SecurityDeclared bool                  `json:"security_declared" yaml:"security_declared"`

	Parameters          []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody         *SchemaRef  `json:"request_body,omitempty" yaml:"request_body,omitempty"`
	RequestContentTypes []string    `json:"request_content_types,omitempty" yaml:"request_content_types,omitempty"`
	Responses           []Response  `json:"responses,omitempty" yaml:"responses,omitempty"`
	Deprecated          bool        `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`
	Tags                []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Parameter is a path, query, header or cookie parameter.
type Parameter struct {
	Name     string `json:"name" yaml:"name"`
	In       string `json:"in" yaml:"in"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Response is one status code entry of an operation.
type Response struct {
	Status       string     `json:"status" yaml:"status"`
	ContentTypes []string   `json:"content_types,omitempty" yaml:"content_types,omitempty"`
	Schema       *SchemaRef `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// SchemaRef points at a named schema (Ref) or carries an anonymous inline schema.
// Ref accepts both bare names ("User") and JSON pointers ("#/components/schemas/User").
type SchemaRef struct {
	Ref    string  `json:"ref,omitempty" yaml:"ref,omitempty"`
	Inline *Schema `json:"inline,omitempty" yaml:"inline,omitempty"`
}

// Schema is a structural description of a payload.
type Schema struct {
	Name        string              `json:"name,omitempty" yaml:"name,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string              `json:"type,omitempty" yaml:"type,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string            `json:"required,omitempty" yaml:"required,omitempty"`

	// Items describes array elements for array-typed schemas.
	Items *SchemaRef `json:"items,omitempty" yaml:"items,omitempty"`

	// Composed lists allOf/oneOf/anyOf members.
	Composed []SchemaRef `json:"composed,omitempty" yaml:"composed,omitempty"`
}

// Property is a single schema property. Exactly one of Ref, ItemsRef or Inline is
// typically set for non-scalar properties.
type Property struct {
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Ref is a reference to a named schema ("$ref").
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
	// ItemsRef is a reference to the named schema of array items.
	ItemsRef string `json:"items_ref,omitempty" yaml:"items_ref,omitempty"`
	// ItemsType is the scalar type of array items when ItemsRef is empty.
	ItemsType string `json:"items_type,omitempty" yaml:"items_type,omitempty"`
	// Inline is an anonymous nested object.
	Inline *Schema `json:"inline,omitempty" yaml:"inline,omitempty"`
}
