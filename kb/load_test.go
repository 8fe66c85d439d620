package kb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadExamples(t *testing.T) {
	path := writeFile(t, "examples.yml", `
examples:
  - question: "How many employees are there?"
    sql: "SELECT COUNT(*) FROM employees"
  - question: "List all departments"
    sql: "SELECT DISTINCT department FROM employees"
`)

	docs, err := LoadExamples(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("document count = %d, want 2", len(docs))
	}
	if docs[0].Metadata[MetaType] != TypeExample {
		t.Errorf("type = %s, want example", docs[0].Metadata[MetaType])
	}
	if !strings.Contains(docs[0].Content, "SELECT COUNT(*)") {
		t.Errorf("content missing the SQL: %q", docs[0].Content)
	}
}

func TestLoadExamplesRejectsIncomplete(t *testing.T) {
	path := writeFile(t, "examples.yml", `
examples:
  - question: "Missing the SQL"
`)
	if _, err := LoadExamples(path); err == nil {
		t.Error("expected error for example without sql")
	}
}

func TestLoadSchemaAndFormat(t *testing.T) {
	path := writeFile(t, "schema.yml", `
tables:
  - name: employees
    description: "Company staff"
    columns:
      - {name: id, type: INT, description: "Primary key"}
      - {name: name, type: TEXT}
  - name: departments
    columns:
      - {name: id, type: INT}
`)

	docs, err := LoadSchema(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("document count = %d, want 2", len(docs))
	}
	if docs[0].Metadata["table"] != "employees" {
		t.Errorf("table metadata = %s, want employees", docs[0].Metadata["table"])
	}

	formatted := FormatSchema(docs)
	for _, want := range []string{"Table: employees", "Company staff", "id INT", "Table: departments"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("formatted schema missing %q:\n%s", want, formatted)
		}
	}
}
