package ai

import "testing"

type sampleInput struct {
	Query string   `json:"query" jsonschema:"description=free text query"`
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

func TestSchemaFor(t *testing.T) {
	schema := SchemaFor(&sampleInput{})

	m, err := SchemaMap(schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := m["$schema"]; ok {
		t.Fatalf("expected $schema to be stripped")
	}
	if _, ok := m["$id"]; ok {
		t.Fatalf("expected $id to be stripped")
	}
	if m["type"] != "object" {
		t.Fatalf("expected object schema, got %v", m["type"])
	}

	props, ok := m["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected inline properties, got %T", m["properties"])
	}
	if _, ok := props["query"]; !ok {
		t.Fatalf("expected query property")
	}

	required, _ := m["required"].([]any)
	if len(required) != 1 || required[0] != "query" {
		t.Fatalf("expected only query to be required, got %v", required)
	}
}

func TestSchemaMapNil(t *testing.T) {
	m, err := SchemaMap(nil)
	if err != nil || m != nil {
		t.Fatalf("expected nil map without error, got %v %v", m, err)
	}
}
