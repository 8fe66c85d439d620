package assistant

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/nl2sql-go/flow"
	"github.com/dshills/nl2sql-go/flow/store"
	"github.com/dshills/nl2sql-go/llm/mock"
	"github.com/dshills/nl2sql-go/sqldb"
)

const generateAnswer = `{"sql_query": "SELECT COUNT(*) FROM employees", "sql_explanation": "Counts all employees."}`

func newPipeline(t *testing.T, model *mock.Model, db *fakeDB) *flow.Engine {
	t.Helper()
	a, err := New(model, db, nil, Config{Schema: "Table: employees\n  id INT"})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}
	g, err := a.Graph()
	if err != nil {
		t.Fatalf("failed to compile graph: %v", err)
	}
	eng, err := flow.New(g, store.NewMemoryStore[flow.State]())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func TestGraphCompiles(t *testing.T) {
	a, err := New(mock.New(), &fakeDB{}, nil, Config{})
	if err != nil {
		t.Fatalf("failed to create assistant: %v", err)
	}
	if _, err := a.Graph(); err != nil {
		t.Fatalf("graph does not compile: %v", err)
	}
}

func TestFullQueryFlowWithApproval(t *testing.T) {
	// Model calls in order: classify, generate, analyze. The syntax check
	// passes first try, so the fixer is never consulted.
	model := mock.New("sql", generateAnswer, "There are 3 employees.")
	db := &fakeDB{execResult: sqldb.Result{
		Columns:  []string{"COUNT(*)"},
		Rows:     [][]any{{int64(3)}},
		RowCount: 1,
	}}
	eng := newPipeline(t, model, db)
	ctx := context.Background()

	out, err := eng.Start(ctx, "s1", flow.Delta{
		History: []flow.Message{{Role: flow.RoleUser, Content: "how many employees are there?"}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if out.Kind != flow.OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended at confirmation", out.Kind)
	}

	payload, ok := out.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", out.Payload)
	}
	if sql, _ := payload["sql_query"].(string); sql != "SELECT COUNT(*) FROM employees" {
		t.Errorf("payload sql = %q", sql)
	}

	out, err = eng.Resume(ctx, "s1", "yes")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if out.Kind != flow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", out.Kind)
	}

	if len(db.executed) != 1 || db.executed[0] != "SELECT COUNT(*) FROM employees" {
		t.Errorf("executed queries = %v", db.executed)
	}
	if out.State.Values[KeyAnalysis] != "There are 3 employees." {
		t.Errorf("analysis = %v", out.State.Values[KeyAnalysis])
	}
	msg, _ := out.State.LastMessage(flow.RoleAssistant)
	if msg.Content != "There are 3 employees." {
		t.Errorf("final message = %q", msg.Content)
	}
}

func TestFullQueryFlowWithRejection(t *testing.T) {
	model := mock.New("sql", generateAnswer)
	db := &fakeDB{}
	eng := newPipeline(t, model, db)
	ctx := context.Background()

	out, err := eng.Start(ctx, "s1", flow.Delta{
		History: []flow.Message{{Role: flow.RoleUser, Content: "how many employees?"}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if out.Kind != flow.OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended", out.Kind)
	}

	out, err = eng.Resume(ctx, "s1", "no thanks")
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if out.Kind != flow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", out.Kind)
	}
	if len(db.executed) != 0 {
		t.Errorf("rejected query was executed: %v", db.executed)
	}
	msg, _ := out.State.LastMessage(flow.RoleAssistant)
	if !strings.Contains(msg.Content, "won't run") {
		t.Errorf("final message = %q, want the decline notice", msg.Content)
	}
}

func TestChatFlowBypassesSQL(t *testing.T) {
	model := mock.New("chat", "Hello! Ask me about your data.")
	db := &fakeDB{}
	eng := newPipeline(t, model, db)

	out, err := eng.Start(context.Background(), "s1", flow.Delta{
		History: []flow.Message{{Role: flow.RoleUser, Content: "hi there"}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if out.Kind != flow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", out.Kind)
	}
	if out.State.Values[KeyIntent] != IntentChat {
		t.Errorf("intent = %v, want chat", out.State.Values[KeyIntent])
	}
	if len(db.executed) != 0 || len(db.prepared) != 0 {
		t.Error("chat flow touched the database")
	}
	msg, _ := out.State.LastMessage(flow.RoleAssistant)
	if msg.Content != "Hello! Ask me about your data." {
		t.Errorf("reply = %q", msg.Content)
	}
}

func TestUnsafeQueryStopsPipeline(t *testing.T) {
	model := mock.New("sql", `{"sql_query": "DROP TABLE employees", "sql_explanation": "Removes the table."}`)
	db := &fakeDB{}
	eng := newPipeline(t, model, db)

	out, err := eng.Start(context.Background(), "s1", flow.Delta{
		History: []flow.Message{{Role: flow.RoleUser, Content: "drop the employees table"}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if out.Kind != flow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (refusal, not failure)", out.Kind)
	}
	if out.State.Values[KeySafety] != StatusUnsafe {
		t.Errorf("safety = %v, want unsafe", out.State.Values[KeySafety])
	}
	if len(db.prepared) != 0 || len(db.executed) != 0 {
		t.Error("unsafe query reached the database")
	}
	msg, _ := out.State.LastMessage(flow.RoleAssistant)
	if !strings.Contains(msg.Content, "can't run") {
		t.Errorf("refusal message = %q", msg.Content)
	}
}

func TestSuspendedPipelineSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore[flow.State]()
	db := &fakeDB{execResult: sqldb.Result{
		Columns: []string{"n"}, Rows: [][]any{{int64(3)}}, RowCount: 1,
	}}

	build := func(model *mock.Model) *flow.Engine {
		a, err := New(model, db, nil, Config{Schema: "Table: employees"})
		if err != nil {
			t.Fatalf("failed to create assistant: %v", err)
		}
		g, err := a.Graph()
		if err != nil {
			t.Fatalf("failed to compile graph: %v", err)
		}
		eng, err := flow.New(g, st)
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		return eng
	}
	ctx := context.Background()

	eng1 := build(mock.New("sql", generateAnswer))
	out, err := eng1.Start(ctx, "s1", flow.Delta{
		History: []flow.Message{{Role: flow.RoleUser, Content: "how many employees?"}},
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if out.Kind != flow.OutcomeSuspended {
		t.Fatalf("outcome = %s, want suspended", out.Kind)
	}

	// Only the post-resume model call (analysis) is scripted here: the
	// pre-suspension steps must not run again.
	eng2 := build(mock.New("There are 3 employees."))
	out, err = eng2.Resume(ctx, "s1", "y")
	if err != nil {
		t.Fatalf("resume after restart failed: %v", err)
	}
	if out.Kind != flow.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", out.Kind)
	}
	if out.State.Values[KeyAnalysis] != "There are 3 employees." {
		t.Errorf("analysis = %v", out.State.Values[KeyAnalysis])
	}
}
