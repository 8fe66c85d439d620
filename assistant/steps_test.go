package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/nl2sql-go/flow"
	"github.com/dshills/nl2sql-go/kb"
	"github.com/dshills/nl2sql-go/llm/mock"
	"github.com/dshills/nl2sql-go/sqldb"
)

// fakeDB scripts Prepare outcomes and returns a fixed Execute result.
type fakeDB struct {
	prepareErrs []error
	prepared    []string
	execResult  sqldb.Result
	execErr     error
	executed    []string
}

func (f *fakeDB) Prepare(ctx context.Context, query string) error {
	f.prepared = append(f.prepared, query)
	if len(f.prepareErrs) == 0 {
		return nil
	}
	err := f.prepareErrs[0]
	f.prepareErrs = f.prepareErrs[1:]
	return err
}

func (f *fakeDB) Execute(ctx context.Context, query string) (sqldb.Result, error) {
	f.executed = append(f.executed, query)
	if f.execErr != nil {
		return sqldb.Result{}, f.execErr
	}
	return f.execResult, nil
}

// fakeSearcher records queries and returns scripted documents.
type fakeSearcher struct {
	docs    []kb.Document
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, text string, k int, filter map[string]string) ([]kb.Document, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func newTestAssistant(t *testing.T, model *mock.Model, db *fakeDB) *Assistant {
	t.Helper()
	a, err := New(model, db, nil, Config{Schema: "Table: employees\n  id INT\n  name TEXT"})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}
	return a
}

func stateWithUser(content string) flow.State {
	return flow.State{
		History: []flow.Message{{Role: flow.RoleUser, Content: content}},
		Values:  map[string]any{},
	}
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"sql answer", "sql", IntentSQL},
		{"padded answer", "  SQL\n", IntentSQL},
		{"chat answer", "chat", IntentChat},
		{"unrecognized answer defaults to chat", "I think this is a database question", IntentChat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssistant(t, mock.New(tt.answer), &fakeDB{})
			result := a.classifyIntent(context.Background(), stateWithUser("how many employees?"))
			if result.Err != nil {
				t.Fatalf("unexpected error: %v", result.Err)
			}
			if result.Delta.Values[KeyIntent] != tt.want {
				t.Errorf("intent = %v, want %s", result.Delta.Values[KeyIntent], tt.want)
			}
			if result.Delta.Values[KeyUserQuery] != "how many employees?" {
				t.Errorf("user query = %v", result.Delta.Values[KeyUserQuery])
			}
		})
	}
}

func TestClassifyIntentRequiresUserMessage(t *testing.T) {
	a := newTestAssistant(t, mock.New("sql"), &fakeDB{})
	result := a.classifyIntent(context.Background(), flow.State{Values: map[string]any{}})
	if result.Err == nil {
		t.Error("expected error without a user message")
	}
}

func TestClassifyIntentIncludesPriorTurns(t *testing.T) {
	model := mock.New("sql")
	a := newTestAssistant(t, model, &fakeDB{})

	state := flow.State{
		History: []flow.Message{
			{Role: flow.RoleUser, Content: "how many employees are there?"},
			{Role: flow.RoleAssistant, Content: "There are 3 employees."},
			{Role: flow.RoleUser, Content: "now only for engineering"},
		},
		Values: map[string]any{},
	}
	result := a.classifyIntent(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	prompt := model.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "how many employees are there?") ||
		!strings.Contains(prompt, "There are 3 employees.") {
		t.Errorf("prompt is missing the earlier turns:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Classify this message:\n\nnow only for engineering") {
		t.Errorf("prompt does not end with the new message:\n%s", prompt)
	}
}

func TestChatReplyConsultsKnowledgeBase(t *testing.T) {
	model := mock.New("We track employees and departments.")
	searcher := &fakeSearcher{docs: []kb.Document{
		{ID: "table-employees", Content: "Table: employees\n  id INT\n  name TEXT"},
	}}
	a, err := New(model, &fakeDB{}, searcher, Config{})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}

	result := a.chatReply(context.Background(), stateWithUser("what data do you have?"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	if len(searcher.queries) != 1 || searcher.queries[0] != "what data do you have?" {
		t.Errorf("searcher queries = %v, want the user's message", searcher.queries)
	}
	system := model.Requests()[0].System
	if !strings.Contains(system, "Table: employees") {
		t.Errorf("system prompt is missing the retrieved document:\n%s", system)
	}
}

func TestChatReplyFailsWhenRetrievalFails(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index offline")}
	a, err := New(mock.New("hi"), &fakeDB{}, searcher, Config{})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}

	result := a.chatReply(context.Background(), stateWithUser("hello"))
	if result.Err == nil {
		t.Error("expected a step failure when retrieval fails")
	}
}

func TestGenerateSQLParsesJSON(t *testing.T) {
	answer := "```json\n{\"sql_query\": \"SELECT COUNT(*) FROM employees\", \"sql_explanation\": \"Counts all employees.\"}\n```"
	a := newTestAssistant(t, mock.New(answer), &fakeDB{})

	state := stateWithUser("how many employees?")
	state.Values[KeyUserQuery] = "how many employees?"
	result := a.generateSQL(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeyGeneration] != StatusSuccess {
		t.Errorf("generation status = %v, want success", result.Delta.Values[KeyGeneration])
	}
	if result.Delta.Values[KeySQLQuery] != "SELECT COUNT(*) FROM employees" {
		t.Errorf("sql = %v", result.Delta.Values[KeySQLQuery])
	}
	if result.Delta.Values[KeySQLExplanation] != "Counts all employees." {
		t.Errorf("explanation = %v", result.Delta.Values[KeySQLExplanation])
	}
}

func TestGenerateSQLIncludesPriorTurns(t *testing.T) {
	answer := `{"sql_query": "SELECT COUNT(*) FROM employees WHERE department = 'eng'", "sql_explanation": "Counts engineers."}`
	model := mock.New(answer)
	a := newTestAssistant(t, model, &fakeDB{})

	state := flow.State{
		History: []flow.Message{
			{Role: flow.RoleUser, Content: "how many employees are there?"},
			{Role: flow.RoleAssistant, Content: "There are 3 employees."},
			{Role: flow.RoleUser, Content: "now only for engineering"},
		},
		Values: map[string]any{KeyUserQuery: "now only for engineering"},
	}
	result := a.generateSQL(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	prompt := model.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "Conversation so far:") ||
		!strings.Contains(prompt, "how many employees are there?") {
		t.Errorf("prompt is missing the earlier turns:\n%s", prompt)
	}
	if !strings.Contains(prompt, "User question: now only for engineering") {
		t.Errorf("prompt does not carry the follow-up question:\n%s", prompt)
	}
}

func TestGenerateSQLUnparseableAnswer(t *testing.T) {
	a := newTestAssistant(t, mock.New("sorry, I can't help with that"), &fakeDB{})

	state := stateWithUser("question")
	state.Values[KeyUserQuery] = "question"
	result := a.generateSQL(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeyGeneration] != StatusFailure {
		t.Errorf("generation status = %v, want failure", result.Delta.Values[KeyGeneration])
	}
	if len(result.Delta.History) == 0 || result.Delta.History[0].Role != flow.RoleAssistant {
		t.Error("expected an explanatory assistant message")
	}
}

func TestCheckSafety(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"select is safe", "SELECT name FROM employees", StatusSafe},
		{"drop is unsafe", "DROP TABLE employees", StatusUnsafe},
		{"lowercase delete is unsafe", "delete from employees", StatusUnsafe},
		{"keyword inside identifier is safe", "SELECT updated_at FROM employees", StatusSafe},
		{"update mid-query is unsafe", "SELECT 1; UPDATE employees SET name = 'x'", StatusUnsafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssistant(t, mock.New(), &fakeDB{})
			state := flow.State{Values: map[string]any{KeySQLQuery: tt.query}}
			result := a.checkSafety(context.Background(), state)
			if result.Err != nil {
				t.Fatalf("unexpected error: %v", result.Err)
			}
			if result.Delta.Values[KeySafety] != tt.want {
				t.Errorf("safety = %v, want %s", result.Delta.Values[KeySafety], tt.want)
			}
			if tt.want == StatusUnsafe && len(result.Delta.History) == 0 {
				t.Error("unsafe result should carry a refusal message")
			}
		})
	}
}

func TestCheckSyntaxValidFirstTry(t *testing.T) {
	model := mock.New()
	db := &fakeDB{}
	a := newTestAssistant(t, model, db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "SELECT 1"}}
	result := a.checkSyntax(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeySyntax] != StatusValid {
		t.Errorf("syntax = %v, want valid", result.Delta.Values[KeySyntax])
	}
	if model.Calls() != 0 {
		t.Errorf("fixer ran %d times on valid sql, want 0", model.Calls())
	}
}

func TestCheckSyntaxFixedBySecondAttempt(t *testing.T) {
	model := mock.New("SELECT name FROM employees")
	db := &fakeDB{prepareErrs: []error{errors.New("near FORM: syntax error")}}
	a := newTestAssistant(t, model, db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "SELECT name FORM employees"}}
	result := a.checkSyntax(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeySyntax] != StatusValid {
		t.Errorf("syntax = %v, want valid", result.Delta.Values[KeySyntax])
	}
	if result.Delta.Values[KeySQLQuery] != "SELECT name FROM employees" {
		t.Errorf("sql = %v, want the corrected statement", result.Delta.Values[KeySQLQuery])
	}
	if len(db.prepared) != 2 {
		t.Errorf("prepare ran %d times, want 2", len(db.prepared))
	}
}

func TestCheckSyntaxExhaustsAttempts(t *testing.T) {
	model := mock.New("still broken 1", "still broken 2")
	db := &fakeDB{prepareErrs: []error{
		errors.New("bad sql"), errors.New("bad sql"), errors.New("bad sql"),
	}}
	a := newTestAssistant(t, model, db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "garbage"}}
	result := a.checkSyntax(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected step error: %v", result.Err)
	}
	if result.Delta.Values[KeySyntax] != StatusInvalid {
		t.Errorf("syntax = %v, want invalid", result.Delta.Values[KeySyntax])
	}
	if model.Calls() != 2 {
		t.Errorf("fixer ran %d times, want 2", model.Calls())
	}
	if len(result.Delta.History) == 0 {
		t.Error("invalid result should carry an apology message")
	}
}

func TestCheckSyntaxFixerOutageFailsStep(t *testing.T) {
	model := mock.NewError(errors.New("api down"))
	db := &fakeDB{prepareErrs: []error{errors.New("bad sql")}}
	a := newTestAssistant(t, model, db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "garbage"}}
	result := a.checkSyntax(context.Background(), state)
	if result.Err == nil {
		t.Fatal("expected a step failure when the fixer is unreachable")
	}
}

func TestConfirmSuspendsWithQuestion(t *testing.T) {
	state := flow.State{Values: map[string]any{
		KeySQLQuery:       "SELECT COUNT(*) FROM employees",
		KeySQLExplanation: "Counts all employees.",
	}}

	result := confirmStep{}.Run(context.Background(), state)
	if result.Suspend == nil {
		t.Fatal("expected a suspension")
	}
	payload, ok := result.Suspend.Value.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want map", result.Suspend.Value)
	}
	question, _ := payload["question"].(string)
	if !strings.Contains(question, "SELECT COUNT(*)") || !strings.Contains(question, "yes/no") {
		t.Errorf("question = %q, want the query and a prompt", question)
	}
	if len(result.Delta.History) != 1 {
		t.Error("suspension should append the question to history")
	}
}

func TestConfirmResume(t *testing.T) {
	tests := []struct {
		reply any
		want  string
	}{
		{"yes", StatusApproved},
		{"y", StatusApproved},
		{"  YES  ", StatusApproved},
		{"no", StatusRejected},
		{"yes please", StatusRejected},
		{"anything else", StatusRejected},
		{nil, StatusRejected},
	}
	for _, tt := range tests {
		result := confirmStep{}.Resume(context.Background(), flow.State{}, tt.reply)
		if result.Err != nil {
			t.Fatalf("resume(%v) failed: %v", tt.reply, result.Err)
		}
		if result.Delta.Values[KeyFeedback] != tt.want {
			t.Errorf("resume(%v) feedback = %v, want %s", tt.reply, result.Delta.Values[KeyFeedback], tt.want)
		}
	}
}

func TestExecuteSQL(t *testing.T) {
	db := &fakeDB{execResult: sqldb.Result{
		Columns:  []string{"n"},
		Rows:     [][]any{{int64(3)}},
		RowCount: 1,
	}}
	a := newTestAssistant(t, mock.New(), db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "SELECT COUNT(*) AS n FROM employees"}}
	result := a.executeSQL(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeyExecution] != StatusSuccess {
		t.Errorf("execution = %v, want success", result.Delta.Values[KeyExecution])
	}
	stored, err := resultFromValue(result.Delta.Values[KeyResult])
	if err != nil {
		t.Fatalf("stored result unreadable: %v", err)
	}
	if stored.RowCount != 1 || stored.Columns[0] != "n" {
		t.Errorf("stored result = %+v", stored)
	}
}

func TestExecuteSQLFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("no such table: ghosts")}
	a := newTestAssistant(t, mock.New(), db)

	state := flow.State{Values: map[string]any{KeySQLQuery: "SELECT * FROM ghosts"}}
	result := a.executeSQL(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("execution errors complete the step, got step failure: %v", result.Err)
	}
	if result.Delta.Values[KeyExecution] != StatusFailure {
		t.Errorf("execution = %v, want failure", result.Delta.Values[KeyExecution])
	}
	if len(result.Delta.History) == 0 {
		t.Error("failure should tell the user")
	}
}

func TestAnalyzeResultTruncatesRows(t *testing.T) {
	model := mock.New("Seven rows match; the largest is row one.")
	a := newTestAssistant(t, model, &fakeDB{})

	rows := make([][]any, 7)
	for i := range rows {
		rows[i] = []any{i}
	}
	value, err := resultValue(sqldb.Result{Columns: []string{"id"}, Rows: rows, RowCount: 7})
	if err != nil {
		t.Fatalf("resultValue failed: %v", err)
	}

	state := flow.State{Values: map[string]any{
		KeyUserQuery: "list ids",
		KeySQLQuery:  "SELECT id FROM things",
		KeyResult:    value,
	}}
	result := a.analyzeResult(context.Background(), state)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Values[KeyAnalysis] != "Seven rows match; the largest is row one." {
		t.Errorf("analysis = %v", result.Delta.Values[KeyAnalysis])
	}

	requests := model.Requests()
	if len(requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(requests))
	}
	prompt := requests[0].Messages[0].Content
	if !strings.Contains(prompt, "7 rows, showing first 5") {
		t.Errorf("prompt does not mention truncation:\n%s", prompt)
	}
	if strings.Count(prompt, "\n") > 20 {
		t.Errorf("prompt looks untruncated:\n%s", prompt)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"  ```json\n{\"a\": 1}\n```  ", `{"a": 1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
