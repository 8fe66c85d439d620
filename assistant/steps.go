// Package assistant implements the natural-language-to-SQL pipeline as a
// flow graph: classify the user's intent, generate and validate a query,
// confirm it with the user, execute it, and summarize the result.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dshills/nl2sql-go/flow"
	"github.com/dshills/nl2sql-go/kb"
	"github.com/dshills/nl2sql-go/llm"
	"github.com/dshills/nl2sql-go/sqldb"
)

// Step names in the assistant graph.
const (
	StepClassifyIntent = "classify_intent"
	StepChatReply      = "chat_reply"
	StepGenerateSQL    = "generate_sql"
	StepCheckSafety    = "check_safety"
	StepCheckSyntax    = "check_syntax"
	StepConfirm        = "confirm_execution"
	StepExecuteSQL     = "execute_sql"
	StepAnalyzeResult  = "analyze_result"
)

// State value keys written by the steps.
const (
	KeyIntent         = "intent"
	KeyUserQuery      = "user_query"
	KeySQLQuery       = "sql_query"
	KeySQLExplanation = "sql_explanation"
	KeyGeneration     = "generation_status"
	KeySafety         = "safety_status"
	KeySyntax         = "syntax_status"
	KeyFeedback       = "feedback_status"
	KeyExecution      = "execution_status"
	KeyResult         = "execution_result"
	KeyAnalysis       = "analysis"
	KeyError          = "error_detail"
)

// Status values stored under the keys above.
const (
	IntentSQL  = "sql"
	IntentChat = "chat"

	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusSafe     = "safe"
	StatusUnsafe   = "unsafe"
	StatusValid    = "valid"
	StatusInvalid  = "invalid"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// DefaultUnsafeKeywords are SQL keywords the safety check refuses. The
// assistant only ever intends to read data, so anything that writes or
// alters schema is rejected outright.
var DefaultUnsafeKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER",
	"TRUNCATE", "CREATE", "GRANT", "REVOKE", "MERGE", "EXEC",
}

const (
	defaultExampleCount = 4
	maxRowsInAnalysis   = 5
	maxChatHistory      = 8
)

// errFixerFailed marks a syntax-correction attempt that could not even
// reach the model, as opposed to SQL that remained invalid.
var errFixerFailed = errors.New("sql fixer unavailable")

// Database is the slice of sqldb.DB the steps depend on.
type Database interface {
	Execute(ctx context.Context, query string) (sqldb.Result, error)
	Prepare(ctx context.Context, query string) error
}

// Config tunes assistant behavior. The zero value is usable.
type Config struct {
	// Schema is the formatted data dictionary included in generation
	// prompts (see kb.FormatSchema).
	Schema string

	// CorrectionAttempts bounds the syntax-fix loop. Zero means
	// flow.DefaultCorrectionAttempts.
	CorrectionAttempts int

	// ExampleCount is how many similar examples to retrieve for
	// generation. Zero means 4.
	ExampleCount int

	// UnsafeKeywords overrides DefaultUnsafeKeywords when non-empty.
	UnsafeKeywords []string
}

// Assistant holds the dependencies shared by all steps. Create one with
// New and obtain its compiled graph from Graph.
type Assistant struct {
	model    llm.Model
	db       Database
	searcher kb.Searcher
	cfg      Config
	unsafeRe *regexp.Regexp
}

// New creates an assistant. The searcher may be nil, which disables
// example retrieval.
func New(model llm.Model, db Database, searcher kb.Searcher, cfg Config) (*Assistant, error) {
	if model == nil {
		return nil, errors.New("model must not be nil")
	}
	if db == nil {
		return nil, errors.New("database must not be nil")
	}

	keywords := cfg.UnsafeKeywords
	if len(keywords) == 0 {
		keywords = DefaultUnsafeKeywords
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	unsafeRe, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("invalid unsafe keyword list: %w", err)
	}

	if cfg.ExampleCount <= 0 {
		cfg.ExampleCount = defaultExampleCount
	}

	return &Assistant{
		model:    model,
		db:       db,
		searcher: searcher,
		cfg:      cfg,
		unsafeRe: unsafeRe,
	}, nil
}

func (a *Assistant) classifyIntent(ctx context.Context, state flow.State) flow.StepResult {
	msg, ok := state.LastMessage(flow.RoleUser)
	if !ok {
		return flow.Fail(errors.New("no user message to classify"))
	}

	prompt, err := renderClassifyPrompt(msg.Content, priorHistory(state, maxChatHistory))
	if err != nil {
		return flow.Fail(err)
	}
	resp, err := a.model.Generate(ctx, llm.Request{
		System:   classifySystem,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return flow.Fail(fmt.Errorf("intent classification failed: %w", err))
	}

	intent := strings.ToLower(strings.TrimSpace(resp.Text))
	if intent != IntentSQL {
		intent = IntentChat
	}
	return flow.Complete(flow.Delta{Values: map[string]any{
		KeyIntent:    intent,
		KeyUserQuery: msg.Content,
	}})
}

func (a *Assistant) chatReply(ctx context.Context, state flow.State) flow.StepResult {
	messages := make([]llm.Message, 0, maxChatHistory)
	history := state.History
	if len(history) > maxChatHistory {
		history = history[len(history)-maxChatHistory:]
	}
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: llm.Role(msg.Role), Content: msg.Content})
	}

	// Ground the chat answer in the knowledge base: schema docs and past
	// examples relevant to the user's message go into the system prompt.
	system := chatSystem
	if a.searcher != nil {
		if msg, ok := state.LastMessage(flow.RoleUser); ok {
			docs, err := a.searcher.Search(ctx, msg.Content, a.cfg.ExampleCount, nil)
			if err != nil {
				return flow.Fail(fmt.Errorf("knowledge retrieval failed: %w", err))
			}
			reference, err := renderChatContext(docs)
			if err != nil {
				return flow.Fail(err)
			}
			if reference != "" {
				system = system + "\n\n" + reference
			}
		}
	}

	resp, err := a.model.Generate(ctx, llm.Request{System: system, Messages: messages})
	if err != nil {
		return flow.Fail(fmt.Errorf("chat reply failed: %w", err))
	}

	return flow.Complete(flow.Delta{
		History: []flow.Message{{Role: flow.RoleAssistant, Content: strings.TrimSpace(resp.Text)}},
	})
}

func (a *Assistant) generateSQL(ctx context.Context, state flow.State) flow.StepResult {
	question := state.StringValue(KeyUserQuery)

	var examples []kb.Document
	if a.searcher != nil {
		var err error
		examples, err = a.searcher.Search(ctx, question, a.cfg.ExampleCount,
			map[string]string{kb.MetaType: kb.TypeExample})
		if err != nil {
			return flow.Fail(fmt.Errorf("example retrieval failed: %w", err))
		}
	}

	prompt, err := renderGeneratePrompt(a.cfg.Schema, question, priorHistory(state, maxChatHistory), examples)
	if err != nil {
		return flow.Fail(err)
	}
	resp, err := a.model.Generate(ctx, llm.Request{
		System:   generateSystem,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		JSONOnly: true,
	})
	if err != nil {
		return flow.Fail(fmt.Errorf("sql generation failed: %w", err))
	}

	var out struct {
		SQLQuery       string `json:"sql_query"`
		SQLExplanation string `json:"sql_explanation"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Text)), &out); err != nil || out.SQLQuery == "" {
		reason := out.SQLExplanation
		if reason == "" {
			reason = "I couldn't turn that question into a SQL query."
		}
		return flow.Complete(flow.Delta{
			History: []flow.Message{{Role: flow.RoleAssistant, Content: reason}},
			Values: map[string]any{
				KeyGeneration: StatusFailure,
				KeySQLQuery:   "",
			},
		})
	}

	return flow.Complete(flow.Delta{Values: map[string]any{
		KeyGeneration:     StatusSuccess,
		KeySQLQuery:       strings.TrimSpace(out.SQLQuery),
		KeySQLExplanation: strings.TrimSpace(out.SQLExplanation),
	}})
}

func (a *Assistant) checkSafety(ctx context.Context, state flow.State) flow.StepResult {
	query := state.StringValue(KeySQLQuery)
	if match := a.unsafeRe.FindString(query); match != "" {
		refusal := fmt.Sprintf(
			"I can't run that: the generated query contains %q, and I only execute read-only queries.",
			strings.ToUpper(match))
		return flow.Complete(flow.Delta{
			History: []flow.Message{{Role: flow.RoleAssistant, Content: refusal}},
			Values:  map[string]any{KeySafety: StatusUnsafe},
		})
	}
	return flow.Complete(flow.Delta{Values: map[string]any{KeySafety: StatusSafe}})
}

func (a *Assistant) checkSyntax(ctx context.Context, state flow.State) flow.StepResult {
	fixed, err := flow.SelfCorrect(ctx, state.StringValue(KeySQLQuery), a.cfg.CorrectionAttempts,
		func(ctx context.Context, query string) error {
			return a.db.Prepare(ctx, query)
		},
		func(ctx context.Context, query string, verr error) (string, error) {
			prompt, perr := renderFixPrompt(query, verr.Error())
			if perr != nil {
				return query, fmt.Errorf("%w: %v", errFixerFailed, perr)
			}
			resp, gerr := a.model.Generate(ctx, llm.Request{
				System:   fixSystem,
				Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			})
			if gerr != nil {
				return query, fmt.Errorf("%w: %v", errFixerFailed, gerr)
			}
			return stripFences(resp.Text), nil
		})

	if errors.Is(err, errFixerFailed) {
		return flow.Fail(err)
	}
	if err != nil {
		apology := "I generated a query but couldn't get it to parse against the database, so I won't run it."
		return flow.Complete(flow.Delta{
			History: []flow.Message{{Role: flow.RoleAssistant, Content: apology}},
			Values: map[string]any{
				KeySyntax: StatusInvalid,
				KeyError:  err.Error(),
			},
		})
	}

	return flow.Complete(flow.Delta{Values: map[string]any{
		KeySyntax:   StatusValid,
		KeySQLQuery: fixed,
	}})
}

// confirmStep suspends the session to ask the user whether the validated
// query should run. The resume fold interprets the reply: exact "yes" or
// "y" (case-insensitive, trimmed) approves, anything else rejects.
type confirmStep struct{}

func (confirmStep) Run(ctx context.Context, state flow.State) flow.StepResult {
	query := state.StringValue(KeySQLQuery)
	explanation := state.StringValue(KeySQLExplanation)

	var sb strings.Builder
	sb.WriteString("I plan to run this query:\n\n")
	sb.WriteString(query)
	if explanation != "" {
		sb.WriteString("\n\n")
		sb.WriteString(explanation)
	}
	sb.WriteString("\n\nRun it? (yes/no)")
	question := sb.String()

	delta := flow.Delta{History: []flow.Message{{Role: flow.RoleAssistant, Content: question}}}
	return flow.Suspend(delta, map[string]any{
		"question":  question,
		"sql_query": query,
	})
}

func (confirmStep) Resume(ctx context.Context, state flow.State, value any) flow.StepResult {
	reply := ""
	if value != nil {
		reply = strings.TrimSpace(fmt.Sprint(value))
	}

	status := StatusRejected
	switch strings.ToLower(reply) {
	case "y", "yes":
		status = StatusApproved
	}

	delta := flow.Delta{Values: map[string]any{KeyFeedback: status}}
	if reply != "" {
		delta.History = []flow.Message{{Role: flow.RoleUser, Content: reply}}
	}
	if status == StatusRejected {
		delta.History = append(delta.History, flow.Message{
			Role:    flow.RoleAssistant,
			Content: "Okay, I won't run the query.",
		})
	}
	return flow.Complete(delta)
}

func (a *Assistant) executeSQL(ctx context.Context, state flow.State) flow.StepResult {
	query := state.StringValue(KeySQLQuery)
	result, err := a.db.Execute(ctx, query)
	if err != nil {
		return flow.Complete(flow.Delta{
			History: []flow.Message{{
				Role:    flow.RoleAssistant,
				Content: "The query failed when I ran it: " + err.Error(),
			}},
			Values: map[string]any{
				KeyExecution: StatusFailure,
				KeyError:     err.Error(),
			},
		})
	}

	value, err := resultValue(result)
	if err != nil {
		return flow.Fail(err)
	}
	return flow.Complete(flow.Delta{Values: map[string]any{
		KeyExecution: StatusSuccess,
		KeyResult:    value,
	}})
}

func (a *Assistant) analyzeResult(ctx context.Context, state flow.State) flow.StepResult {
	result, err := resultFromValue(state.Values[KeyResult])
	if err != nil {
		return flow.Fail(err)
	}

	shown := len(result.Rows)
	if shown > maxRowsInAnalysis {
		shown = maxRowsInAnalysis
	}
	prompt, err := renderAnalyzePrompt(
		state.StringValue(KeyUserQuery),
		state.StringValue(KeySQLQuery),
		formatRows(result, shown),
		result.RowCount,
		shown,
	)
	if err != nil {
		return flow.Fail(err)
	}

	resp, err := a.model.Generate(ctx, llm.Request{
		System:   analyzeSystem,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return flow.Fail(fmt.Errorf("result analysis failed: %w", err))
	}

	analysis := strings.TrimSpace(resp.Text)
	return flow.Complete(flow.Delta{
		History: []flow.Message{{Role: flow.RoleAssistant, Content: analysis}},
		Values:  map[string]any{KeyAnalysis: analysis},
	})
}

// priorHistory renders the conversation before the newest user message, at
// most n entries, so follow-up questions ("now only for engineering") keep
// their context in single-prompt model calls.
func priorHistory(state flow.State, n int) string {
	history := state.History
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == flow.RoleUser {
			history = history[:i]
			break
		}
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}

	var sb strings.Builder
	for _, msg := range history {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// stripFences removes a surrounding markdown code fence, which models add
// despite instructions not to.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// resultValue converts a query result into plain JSON types so it reads
// back identically from a checkpoint.
func resultValue(result sqldb.Result) (any, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to deserialize query result: %w", err)
	}
	return out, nil
}

func resultFromValue(value any) (sqldb.Result, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return sqldb.Result{}, fmt.Errorf("failed to read stored query result: %w", err)
	}
	var result sqldb.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return sqldb.Result{}, fmt.Errorf("failed to read stored query result: %w", err)
	}
	return result, nil
}

func formatRows(result sqldb.Result, shown int) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(result.Columns, " | "))
	sb.WriteString("\n")
	for i := 0; i < shown && i < len(result.Rows); i++ {
		cells := make([]string, len(result.Rows[i]))
		for j, cell := range result.Rows[i] {
			cells[j] = fmt.Sprint(cell)
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
	return sb.String()
}
