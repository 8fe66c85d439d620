package kb

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExampleFile is the YAML layout of a few-shot example file:
//
//	examples:
//	  - question: "How many employees are there?"
//	    sql: "SELECT COUNT(*) FROM employees"
type ExampleFile struct {
	Examples []Example `yaml:"examples"`
}

// Example pairs a natural-language question with its SQL answer.
type Example struct {
	Question string `yaml:"question"`
	SQL      string `yaml:"sql"`
}

// SchemaFile is the YAML layout of a data dictionary file:
//
//	tables:
//	  - name: employees
//	    description: "Company staff"
//	    columns:
//	      - {name: id, type: INT, description: "Primary key"}
type SchemaFile struct {
	Tables []Table `yaml:"tables"`
}

// Table documents one database table.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
}

// Column documents one table column.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// LoadExamples reads a few-shot example file into documents tagged
// type=example, ready for indexing.
func LoadExamples(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read examples file: %w", err)
	}

	var file ExampleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse examples file: %w", err)
	}

	docs := make([]Document, 0, len(file.Examples))
	for i, ex := range file.Examples {
		if ex.Question == "" || ex.SQL == "" {
			return nil, fmt.Errorf("example %d: question and sql are required", i)
		}
		docs = append(docs, Document{
			ID:       fmt.Sprintf("example-%d", i),
			Content:  fmt.Sprintf("Question: %s\nSQL: %s", ex.Question, ex.SQL),
			Metadata: map[string]string{MetaType: TypeExample},
		})
	}
	return docs, nil
}

// LoadSchema reads a data dictionary file into one document per table,
// tagged type=schema.
func LoadSchema(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	docs := make([]Document, 0, len(file.Tables))
	for i, table := range file.Tables {
		if table.Name == "" {
			return nil, fmt.Errorf("table %d: name is required", i)
		}
		docs = append(docs, Document{
			ID:       "table-" + table.Name,
			Content:  formatTable(table),
			Metadata: map[string]string{MetaType: TypeSchema, "table": table.Name},
		})
	}
	return docs, nil
}

// FormatSchema renders schema documents as a single prompt context block.
func FormatSchema(docs []Document) string {
	var sb strings.Builder
	for _, doc := range docs {
		if doc.Metadata[MetaType] != TypeSchema {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(doc.Content)
	}
	return sb.String()
}

func formatTable(table Table) string {
	var sb strings.Builder
	sb.WriteString("Table: ")
	sb.WriteString(table.Name)
	if table.Description != "" {
		sb.WriteString(" -- ")
		sb.WriteString(table.Description)
	}
	sb.WriteString("\n")
	for _, col := range table.Columns {
		sb.WriteString("  ")
		sb.WriteString(col.Name)
		if col.Type != "" {
			sb.WriteString(" ")
			sb.WriteString(col.Type)
		}
		if col.Description != "" {
			sb.WriteString(" -- ")
			sb.WriteString(col.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
