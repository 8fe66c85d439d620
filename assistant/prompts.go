package assistant

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dshills/nl2sql-go/kb"
)

// System prompts for each model call.
const (
	classifySystem = "You are an intent classifier for a database assistant. " +
		"Answer with exactly one word: 'sql' if the user is asking for data that requires querying the database, " +
		"or 'chat' for anything else (greetings, questions about the assistant, general conversation)."

	generateSystem = "You are an expert SQL developer. Generate a single read-only SQL query answering the user's question. " +
		"Respond with a JSON object containing exactly two keys: " +
		`"sql_query" (the SQL statement) and "sql_explanation" (a one-sentence plain-language explanation). ` +
		"If the question cannot be answered with the given schema, set sql_query to an empty string and explain why."

	fixSystem = "You are an expert SQL developer. You will receive a SQL statement and the database error it produced. " +
		"Respond with only the corrected SQL statement, no commentary and no markdown."

	chatSystem = "You are a friendly database assistant. Answer conversationally and briefly. " +
		"If relevant, mention the kinds of questions you can answer about the data."

	analyzeSystem = "You are a data analyst. Summarize the query result for the user in one or two sentences. " +
		"Mention concrete numbers where useful. Do not reproduce the whole table."
)

var (
	classifyTmpl = template.Must(template.New("classify").Parse(
		`{{if .History}}Conversation so far:
{{.History}}

{{end}}Classify this message:

{{.Question}}`,
	))

	generateTmpl = template.Must(template.New("generate").Parse(
		`Database schema:
{{.Schema}}
{{if .Examples}}
Similar examples:
{{range .Examples}}{{.}}
{{end}}{{end}}{{if .History}}
Conversation so far:
{{.History}}
{{end}}
User question: {{.Question}}`,
	))

	chatContextTmpl = template.Must(template.New("chatContext").Parse(
		`Reference material about the database, use it when relevant:
{{range .Docs}}{{.}}
{{end}}`,
	))

	fixTmpl = template.Must(template.New("fix").Parse(
		`SQL statement:
{{.SQL}}

Database error:
{{.Error}}`,
	))

	analyzeTmpl = template.Must(template.New("analyze").Parse(
		`User question: {{.Question}}

Executed SQL: {{.SQL}}

Result ({{.RowCount}} rows{{if .Truncated}}, showing first {{.Shown}}{{end}}):
{{.Table}}`,
	))
)

func renderClassifyPrompt(question, history string) (string, error) {
	return render(classifyTmpl, map[string]any{
		"Question": question,
		"History":  history,
	})
}

func renderGeneratePrompt(schema, question, history string, examples []kb.Document) (string, error) {
	contents := make([]string, len(examples))
	for i, doc := range examples {
		contents[i] = doc.Content
	}
	return render(generateTmpl, map[string]any{
		"Schema":   schema,
		"Question": question,
		"History":  history,
		"Examples": contents,
	})
}

func renderChatContext(docs []kb.Document) (string, error) {
	if len(docs) == 0 {
		return "", nil
	}
	contents := make([]string, len(docs))
	for i, doc := range docs {
		contents[i] = doc.Content
	}
	return render(chatContextTmpl, map[string]any{"Docs": contents})
}

func renderFixPrompt(sql, dbError string) (string, error) {
	return render(fixTmpl, map[string]any{"SQL": sql, "Error": dbError})
}

func renderAnalyzePrompt(question, sql, table string, rowCount, shown int) (string, error) {
	return render(analyzeTmpl, map[string]any{
		"Question":  question,
		"SQL":       sql,
		"Table":     table,
		"RowCount":  rowCount,
		"Shown":     shown,
		"Truncated": shown < rowCount,
	})
}

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
