// File: internal/contract/loader.go
// Description: Loads OpenAPI 3.x and Swagger 2.0 documents, in YAML or JSON, into
// the in-memory contract model consumed by the analysis core.

package contract

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// ErrUnsupportedDocument is returned for documents that are neither OpenAPI 3 nor
// Swagger 2.
var ErrUnsupportedDocument = errors.New("document is not an OpenAPI 3 or Swagger 2 contract")

var httpMethods = map[string]struct{}{
	"get": {}, "put": {}, "post": {}, "delete": {},
	"options": {}, "head": {}, "patch": {}, "trace": {},
}

// Load reads and parses a contract file. "~" in the path is expanded.
func Load(path string) (*schemas.Contract, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand contract path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract %s: %w", expanded, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract %s: %w", expanded, err)
	}
	return c, nil
}

// Parse decodes a contract document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (*schemas.Contract, error) {
	var doc rawDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return nil, ErrUnsupportedDocument
	}

	p := &parser{doc: &doc, swagger: doc.Swagger != ""}
	c := &schemas.Contract{
		Title:   doc.Info.Title,
		Version: doc.Info.Version,
		Schemas: make(map[string]schemas.Schema),
	}
	if present(&doc.Security) {
		reqs, err := decodeSecurity(&doc.Security)
		if err != nil {
			return nil, fmt.Errorf("invalid document security: %w", err)
		}
		c.Security = reqs
	}

	defs := doc.Components.Schemas
	if p.swagger {
		defs = doc.Definitions
	}
	for name, s := range defs {
		if s == nil {
			continue
		}
		converted := p.schema(s)
		converted.Name = name
		c.Schemas[name] = converted
	}

	ops, err := p.operations()
	if err != nil {
		return nil, err
	}
	c.Operations = ops
	return c, nil
}

type parser struct {
	doc     *rawDocument
	swagger bool
}

// operations walks paths and methods in document order.
func (p *parser) operations() ([]schemas.Operation, error) {
	paths := &p.doc.Paths
	if !present(paths) {
		return nil, nil
	}
	if paths.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("paths must be a mapping")
	}

	var ops []schemas.Operation
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		itemNode := paths.Content[i+1]
		if itemNode.Kind != yaml.MappingNode {
			continue
		}
		var item rawPathItem
		if err := itemNode.Decode(&item); err != nil {
			return nil, fmt.Errorf("invalid path item %s: %w", path, err)
		}
		for j := 0; j+1 < len(itemNode.Content); j += 2 {
			method := strings.ToLower(itemNode.Content[j].Value)
			if _, ok := httpMethods[method]; !ok {
				continue
			}
			var raw rawOperation
			if err := itemNode.Content[j+1].Decode(&raw); err != nil {
				return nil, fmt.Errorf("invalid operation %s %s: %w", strings.ToUpper(method), path, err)
			}
			op, err := p.operation(strings.ToUpper(method), path, item.Parameters, &raw)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (p *parser) operation(method, path string, shared []*rawParameter, raw *rawOperation) (schemas.Operation, error) {
	op := schemas.Operation{
		OperationID: raw.OperationID,
		Method:      method,
		Path:        path,
		Deprecated:  raw.Deprecated,
		Tags:        raw.Tags,
	}
	if present(&raw.Security) {
		reqs, err := decodeSecurity(&raw.Security)
		if err != nil {
			return op, fmt.Errorf("invalid security on %s %s: %w", method, path, err)
		}
		op.Security = reqs
		op.SecurityDeclared = true
	}

	// Operation parameters override path-level ones with the same name and location.
	params := make(map[string]int)
	for _, rp := range append(append([]*rawParameter(nil), shared...), raw.Parameters...) {
		rp = p.resolveParameter(rp)
		if rp == nil {
			continue
		}
		if rp.In == "body" {
			op.RequestBody = p.ref(rp.Schema)
			op.RequestContentTypes = firstNonEmpty(raw.Consumes, p.doc.Consumes, []string{"application/json"})
			continue
		}
		param := schemas.Parameter{Name: rp.Name, In: rp.In, Required: rp.Required, Type: string(rp.Type)}
		if param.Type == "" && rp.Schema != nil {
			param.Type = string(rp.Schema.Type)
		}
		key := rp.In + ":" + rp.Name
		if idx, ok := params[key]; ok {
			op.Parameters[idx] = param
			continue
		}
		params[key] = len(op.Parameters)
		op.Parameters = append(op.Parameters, param)
	}

	if rb := p.resolveRequestBody(raw.RequestBody); rb != nil {
		types, schema := p.media(rb.Content)
		op.RequestContentTypes = types
		op.RequestBody = schema
	}

	responses := &raw.Responses
	if present(responses) && responses.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(responses.Content); i += 2 {
			status := responses.Content[i].Value
			var rr rawResponse
			if err := responses.Content[i+1].Decode(&rr); err != nil {
				return op, fmt.Errorf("invalid response %s on %s %s: %w", status, method, path, err)
			}
			resolved := p.resolveResponse(&rr)
			if resolved == nil {
				op.Responses = append(op.Responses, schemas.Response{Status: status})
				continue
			}
			resp := schemas.Response{Status: status}
			if p.swagger {
				if resolved.Schema != nil {
					resp.Schema = p.ref(resolved.Schema)
					resp.ContentTypes = firstNonEmpty(raw.Produces, p.doc.Produces, []string{"application/json"})
				}
			} else {
				resp.ContentTypes, resp.Schema = p.media(resolved.Content)
			}
			op.Responses = append(op.Responses, resp)
		}
	}
	return op, nil
}

// media picks the schema of the first JSON-like content type, falling back to
// the first content type in sorted order.
func (p *parser) media(content map[string]*rawMediaType) ([]string, *schemas.SchemaRef) {
	if len(content) == 0 {
		return nil, nil
	}
	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	chosen := types[0]
	for _, ct := range types {
		if strings.Contains(ct, "json") {
			chosen = ct
			break
		}
	}
	var ref *schemas.SchemaRef
	if mt := content[chosen]; mt != nil {
		ref = p.ref(mt.Schema)
	}
	return types, ref
}

// ref converts a schema position into a reference or an inline schema.
func (p *parser) ref(s *rawSchema) *schemas.SchemaRef {
	if s == nil {
		return nil
	}
	if s.Ref != "" {
		return &schemas.SchemaRef{Ref: s.Ref}
	}
	inline := p.schema(s)
	return &schemas.SchemaRef{Inline: &inline}
}

func (p *parser) schema(s *rawSchema) schemas.Schema {
	out := schemas.Schema{
		Name:        s.Title,
		Description: s.Description,
		Type:        string(s.Type),
		Required:    s.Required,
	}
	if s.Ref != "" {
		out.Composed = append(out.Composed, schemas.SchemaRef{Ref: s.Ref})
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]schemas.Property, len(s.Properties))
		for name, prop := range s.Properties {
			if prop == nil {
				continue
			}
			out.Properties[name] = p.property(prop)
		}
		if out.Type == "" {
			out.Type = "object"
		}
	}
	if s.Items != nil {
		out.Items = p.ref(s.Items)
	}
	for _, group := range [][]*rawSchema{s.AllOf, s.OneOf, s.AnyOf} {
		for _, member := range group {
			if r := p.ref(member); r != nil {
				out.Composed = append(out.Composed, *r)
			}
		}
	}
	return out
}

func (p *parser) property(s *rawSchema) schemas.Property {
	prop := schemas.Property{Type: string(s.Type), Format: s.Format}
	switch {
	case s.Ref != "":
		prop.Ref = s.Ref
		if prop.Type == "" {
			prop.Type = "object"
		}
	case s.Items != nil:
		if prop.Type == "" {
			prop.Type = "array"
		}
		switch {
		case s.Items.Ref != "":
			prop.ItemsRef = s.Items.Ref
		case len(s.Items.Properties) > 0 || len(s.Items.AllOf)+len(s.Items.OneOf)+len(s.Items.AnyOf) > 0:
			inline := p.schema(s.Items)
			prop.Inline = &inline
		default:
			prop.ItemsType = string(s.Items.Type)
		}
	case len(s.Properties) > 0 || len(s.AllOf)+len(s.OneOf)+len(s.AnyOf) > 0:
		inline := p.schema(s)
		prop.Inline = &inline
		if prop.Type == "" {
			prop.Type = "object"
		}
	}
	return prop
}

func (p *parser) resolveParameter(rp *rawParameter) *rawParameter {
	if rp == nil || rp.Ref == "" {
		return rp
	}
	lookup := p.doc.Components.Parameters
	if p.swagger {
		lookup = p.doc.Parameters
	}
	return lookup[refName(rp.Ref)]
}

func (p *parser) resolveRequestBody(rb *rawRequestBody) *rawRequestBody {
	if rb == nil || rb.Ref == "" {
		return rb
	}
	return p.doc.Components.RequestBodies[refName(rb.Ref)]
}

func (p *parser) resolveResponse(rr *rawResponse) *rawResponse {
	if rr == nil || rr.Ref == "" {
		return rr
	}
	lookup := p.doc.Components.Responses
	if p.swagger {
		lookup = p.doc.Responses
	}
	return lookup[refName(rr.Ref)]
}

// decodeSecurity flattens a requirement list. An empty requirement object ("{}")
// is an anonymous alternative and yields a requirement with no scheme. Schemes
// combined in one object are joined with "+" and their scopes merged.
func decodeSecurity(node *yaml.Node) ([]schemas.SecurityRequirement, error) {
	var raw []map[string][]string
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	reqs := make([]schemas.SecurityRequirement, 0, len(raw))
	for _, alt := range raw {
		if len(alt) == 0 {
			reqs = append(reqs, schemas.SecurityRequirement{})
			continue
		}
		names := make([]string, 0, len(alt))
		for name := range alt {
			names = append(names, name)
		}
		sort.Strings(names)
		req := schemas.SecurityRequirement{Scheme: strings.Join(names, "+")}
		for _, name := range names {
			req.Scopes = append(req.Scopes, alt[name]...)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func present(n *yaml.Node) bool {
	return n != nil && n.Kind != 0
}

func refName(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}
