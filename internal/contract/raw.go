// File: internal/contract/raw.go
package contract

import (
	"gopkg.in/yaml.v3"
)

// rawDocument covers both OpenAPI 3.x and Swagger 2.0. Order-sensitive mappings
// stay as nodes so declaration order survives decoding.
type rawDocument struct {
	OpenAPI string `yaml:"openapi"`
	Swagger string `yaml:"swagger"`
	Info    struct {
		Title   string `yaml:"title"`
		Version string `yaml:"version"`
	} `yaml:"info"`
	Security   yaml.Node `yaml:"security"`
	Paths      yaml.Node `yaml:"paths"`
	Consumes   []string  `yaml:"consumes"`
	Produces   []string  `yaml:"produces"`
	Components struct {
		Schemas       map[string]*rawSchema      `yaml:"schemas"`
		Parameters    map[string]*rawParameter   `yaml:"parameters"`
		RequestBodies map[string]*rawRequestBody `yaml:"requestBodies"`
		Responses     map[string]*rawResponse    `yaml:"responses"`
	} `yaml:"components"`
	Definitions map[string]*rawSchema    `yaml:"definitions"`
	Parameters  map[string]*rawParameter `yaml:"parameters"`
	Responses   map[string]*rawResponse  `yaml:"responses"`
}

type rawPathItem struct {
	Ref        string          `yaml:"$ref"`
	Parameters []*rawParameter `yaml:"parameters"`
}

type rawOperation struct {
	OperationID string          `yaml:"operationId"`
	Tags        []string        `yaml:"tags"`
	Deprecated  bool            `yaml:"deprecated"`
	Security    yaml.Node       `yaml:"security"`
	Parameters  []*rawParameter `yaml:"parameters"`
	RequestBody *rawRequestBody `yaml:"requestBody"`
	Responses   yaml.Node       `yaml:"responses"`
	Consumes    []string        `yaml:"consumes"`
	Produces    []string        `yaml:"produces"`
}

type rawParameter struct {
	Ref      string     `yaml:"$ref"`
	Name     string     `yaml:"name"`
	In       string     `yaml:"in"`
	Required bool       `yaml:"required"`
	Type     schemaType `yaml:"type"`
	Schema   *rawSchema `yaml:"schema"`
}

type rawMediaType struct {
	Schema *rawSchema `yaml:"schema"`
}

type rawRequestBody struct {
	Ref     string                   `yaml:"$ref"`
	Content map[string]*rawMediaType `yaml:"content"`
}

type rawResponse struct {
	Ref     string                   `yaml:"$ref"`
	Content map[string]*rawMediaType `yaml:"content"`
	Schema  *rawSchema               `yaml:"schema"`
}

type rawSchema struct {
	Ref         string                `yaml:"$ref"`
	Title       string                `yaml:"title"`
	Description string                `yaml:"description"`
	Type        schemaType            `yaml:"type"`
	Format      string                `yaml:"format"`
	Properties  map[string]*rawSchema `yaml:"properties"`
	Required    []string              `yaml:"required"`
	Items       *rawSchema            `yaml:"items"`
	AllOf       []*rawSchema          `yaml:"allOf"`
	OneOf       []*rawSchema          `yaml:"oneOf"`
	AnyOf       []*rawSchema          `yaml:"anyOf"`
}

// schemaType accepts both the scalar form and the 3.1 list form ("[string, null]").
type schemaType string

func (t *schemaType) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = schemaType(node.Value)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode && item.Value != "null" {
				*t = schemaType(item.Value)
				return nil
			}
		}
	}
	return nil
}
