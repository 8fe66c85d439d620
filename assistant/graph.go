package assistant

import "github.com/dshills/nl2sql-go/flow"

// Routing labels. Each router's label set is closed, so the compiled graph
// is guaranteed to have a target for every decision.
const (
	LabelSQL      flow.Label = IntentSQL
	LabelChat     flow.Label = IntentChat
	LabelSuccess  flow.Label = StatusSuccess
	LabelFailure  flow.Label = StatusFailure
	LabelSafe     flow.Label = StatusSafe
	LabelUnsafe   flow.Label = StatusUnsafe
	LabelValid    flow.Label = StatusValid
	LabelInvalid  flow.Label = StatusInvalid
	LabelApproved flow.Label = StatusApproved
	LabelRejected flow.Label = StatusRejected
)

// Graph compiles the assistant pipeline:
//
//	classify_intent -> chat_reply (chat) | generate_sql (sql)
//	generate_sql    -> check_safety (success) | end (failure)
//	check_safety    -> check_syntax (safe) | end (unsafe)
//	check_syntax    -> confirm_execution (valid) | end (invalid)
//	confirm_execution (suspends) -> execute_sql (approved) | end (rejected)
//	execute_sql     -> analyze_result (success) | end (failure)
//
// Routers put their conservative label first, so an unexpected stored value
// never advances the pipeline.
func (a *Assistant) Graph() (*flow.Graph, error) {
	return flow.NewBuilder().
		AddStep(StepClassifyIntent, flow.StepFunc(a.classifyIntent)).
		AddStep(StepChatReply, flow.StepFunc(a.chatReply)).
		AddStep(StepGenerateSQL, flow.StepFunc(a.generateSQL)).
		AddStep(StepCheckSafety, flow.StepFunc(a.checkSafety)).
		AddStep(StepCheckSyntax, flow.StepFunc(a.checkSyntax)).
		AddStep(StepConfirm, confirmStep{}).
		AddStep(StepExecuteSQL, flow.StepFunc(a.executeSQL)).
		AddStep(StepAnalyzeResult, flow.StepFunc(a.analyzeResult)).
		SetEntry(StepClassifyIntent).
		AddConditionalEdges(StepClassifyIntent,
			flow.ValueRouter(KeyIntent, LabelChat, LabelSQL),
			map[flow.Label]string{
				LabelChat: StepChatReply,
				LabelSQL:  StepGenerateSQL,
			}).
		AddEdge(StepChatReply, flow.End).
		AddConditionalEdges(StepGenerateSQL,
			flow.ValueRouter(KeyGeneration, LabelFailure, LabelSuccess),
			map[flow.Label]string{
				LabelFailure: flow.End,
				LabelSuccess: StepCheckSafety,
			}).
		AddConditionalEdges(StepCheckSafety,
			flow.ValueRouter(KeySafety, LabelUnsafe, LabelSafe),
			map[flow.Label]string{
				LabelUnsafe: flow.End,
				LabelSafe:   StepCheckSyntax,
			}).
		AddConditionalEdges(StepCheckSyntax,
			flow.ValueRouter(KeySyntax, LabelInvalid, LabelValid),
			map[flow.Label]string{
				LabelInvalid: flow.End,
				LabelValid:   StepConfirm,
			}).
		AddConditionalEdges(StepConfirm,
			flow.ValueRouter(KeyFeedback, LabelRejected, LabelApproved),
			map[flow.Label]string{
				LabelRejected: flow.End,
				LabelApproved: StepExecuteSQL,
			}).
		AddConditionalEdges(StepExecuteSQL,
			flow.ValueRouter(KeyExecution, LabelFailure, LabelSuccess),
			map[flow.Label]string{
				LabelFailure: flow.End,
				LabelSuccess: StepAnalyzeResult,
			}).
		AddEdge(StepAnalyzeResult, flow.End).
		Compile()
}
