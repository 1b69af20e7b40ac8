package interp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/orchestrate"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/script"
	"github.com/forgekit/forge/tooling"
)

// MaxLoopIterations caps $while and $for bodies so scripts always
// terminate.
const MaxLoopIterations = 1000

// maxChainDepth bounds chained and piped script nesting.
const maxChainDepth = 8

// ToolRunner executes a tool-call chain; satisfied by
// *orchestrate.Orchestrator.
type ToolRunner interface {
	Run(ctx context.Context, req llmkit.Request, initial *llmkit.Response) (*orchestrate.Outcome, error)
}

// PipelineFunc runs a specialized generation flow for a task, returning
// the text bound as the turn result.
type PipelineFunc func(ctx context.Context, task string) (string, error)

// ConversationState is the mutable per-run state: variable environment,
// append-only chat history, and counters. It is owned by exactly one run.
type ConversationState struct {
	Env       *Env
	History   []llmkit.Message
	Turns     int
	AICalls   int
	ToolCalls int

	pipelineChecked bool
}

// Result is the outcome of one interpreter run. History is preserved even
// on failure so partial progress stays inspectable.
type Result struct {
	Success   bool
	FinalText string
	Variables map[string]Value
	History   []llmkit.Message
	Turns     int
	Err       error
}

// Interpreter drives scripts against a model client and tool registry.
type Interpreter struct {
	Client       *llmkit.Client
	Loader       *script.Loader
	Registry     *tooling.Registry
	Workspace    *tooling.Workspace
	Tools        ToolRunner
	Emitter      *progress.Emitter
	Instructions *InstructionSet
	DefaultModel string

	// NewProject and Upgrade are the specialized first-turn pipelines;
	// either may be nil, in which case the plain turn flow runs.
	NewProject PipelineFunc
	Upgrade    PipelineFunc
}

// Run executes the script. Input params override script parameters. The
// contract never lets a failure escape: errors come back in the Result.
func (in *Interpreter) Run(ctx context.Context, sc *script.Script, inputParams map[string]string) *Result {
	params := make(map[string]string, len(sc.Params)+len(inputParams))
	for k, v := range sc.Params {
		params[k] = v
	}
	for k, v := range inputParams {
		params[k] = v
	}

	if in.Instructions == nil {
		in.Instructions = NewInstructionSet()
	}

	state := &ConversationState{Env: NewEnv(params)}
	in.emit(progress.EventRunStart, sc.Name, nil)

	err := in.runScript(ctx, sc, state, 0)

	res := &Result{
		Success:   err == nil,
		Variables: state.Env.Snapshot(),
		History:   state.History,
		Turns:     state.Turns,
		Err:       err,
	}
	res.FinalText = finalText(state.Env)
	if err != nil {
		in.emit(progress.EventError, err.Error(), nil)
	}
	in.emit(progress.EventRunEnd, sc.Name, map[string]interface{}{"success": res.Success, "turns": res.Turns})
	return res
}

func (in *Interpreter) runScript(ctx context.Context, sc *script.Script, state *ConversationState, depth int) error {
	if depth > maxChainDepth {
		return fmt.Errorf("script %q: chain depth %d exceeds limit", sc.Name, depth)
	}
	for i := range sc.Turns {
		state.Turns++
		in.emit(progress.EventTurnStart, fmt.Sprintf("%s turn %d", sc.Name, i+1), nil)
		if err := in.runTurn(ctx, sc, &sc.Turns[i], state, depth); err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
	}
	return nil
}

func (in *Interpreter) runTurn(ctx context.Context, sc *script.Script, turn *script.Turn, state *ConversationState, depth int) error {
	placeholderFired := false
	hadUserMessage := false

	for mi := range turn.Messages {
		msg := &turn.Messages[mi]
		if msg.Role == "user" {
			hadUserMessage = true
		}

		if !msg.HasPlaceholder() {
			rendered := state.Env.Render(msg.Content)
			state.History = append(state.History, llmkit.Message{Role: llmkit.Role(msg.Role), Text: rendered})
			continue
		}

		// First AI-bearing message of the whole run: check for a
		// specialized pipeline before calling the model.
		if !state.pipelineChecked && state.AICalls == 0 {
			state.pipelineChecked = true
			task := in.effectiveUserMessage(state, turn, mi)
			if text, ran, err := in.runPipeline(ctx, task); ran {
				if err != nil {
					return err
				}
				bindResponse(state.Env, msg.Placeholder, text)
				placeholderFired = true
				break // remaining messages of this turn are skipped
			}
		}

		content := state.Env.Render(script.StripPlaceholder(msg.Content))
		text, err := in.callModel(ctx, state, msg.Placeholder, msg.Choice, content)
		if err != nil {
			return err
		}
		bindResponse(state.Env, msg.Placeholder, text)
		placeholderFired = true
	}

	for bi := range turn.Blocks {
		if err := in.runBlock(ctx, &turn.Blocks[bi], state, depth); err != nil {
			return err
		}
	}

	rt := in.runtime(state)
	for _, instr := range turn.Instructions {
		if err := in.Instructions.Run(rt, instr); err != nil {
			in.warn(instr.Name + ": " + err.Error())
		}
	}

	if turn.Chain != nil {
		if err := in.runChain(ctx, turn.Chain, state, depth); err != nil {
			return err
		}
	}

	// Auto-run synthesis: an AI call over the last user message when the
	// turn placed none itself.
	if !placeholderFired && sc.AutoRun && hadUserMessage {
		text, err := in.callModel(ctx, state, nil, nil, "")
		if err != nil {
			return err
		}
		bindResponse(state.Env, nil, text)
	}
	return nil
}

// runPipeline branches to the upgrade or new-project flow; ran is false
// when neither heuristic matches.
func (in *Interpreter) runPipeline(ctx context.Context, task string) (text string, ran bool, err error) {
	if task == "" {
		return "", false, nil
	}
	if in.Upgrade != nil && in.isUpgradeTask(task) {
		in.emit(progress.EventPhase, "upgrade pipeline", nil)
		text, err = in.Upgrade(ctx, task)
		return text, true, err
	}
	if in.NewProject != nil && isNewProjectTask(task) {
		in.emit(progress.EventPhase, "blueprint pipeline", nil)
		text, err = in.NewProject(ctx, task)
		return text, true, err
	}
	return "", false, nil
}

// callModel performs one AI call: filtered history plus the current
// content, sampling from overrides or the task/tier defaults, tool calls
// dispatched to the orchestrator. content may be empty for synthesized
// continuation calls.
func (in *Interpreter) callModel(ctx context.Context, state *ConversationState, ph *script.Placeholder, choice *script.ChoiceSpec, content string) (string, error) {
	model := in.DefaultModel
	if ph != nil && ph.Model != "" {
		model = ph.Model
	}

	outgoing := strings.TrimSpace(content)
	if choice != nil && len(choice.Options) > 0 {
		if outgoing != "" {
			outgoing += "\n\n"
		}
		outgoing += choiceInstruction(choice)
	}
	if outgoing != "" {
		state.History = append(state.History, llmkit.UserMessage(outgoing))
	}

	req := llmkit.Request{
		Model:    model,
		Messages: filterHistory(state.History),
		Tools:    toolDefinitions(in.Registry),
	}
	applySampling(&req, ph, detectTaskKind(outgoing))

	state.AICalls++
	in.emit(progress.EventModelCall, model, map[string]interface{}{"messages": len(req.Messages)})

	resp, err := in.Client.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	text := resp.Text
	if resp.HasToolCalls() && in.Tools != nil {
		outcome, err := in.Tools.Run(ctx, req, resp)
		if outcome != nil {
			// Partial progress is kept even when the chain errored.
			state.History = append(state.History, outcome.Messages...)
			state.ToolCalls += outcome.ToolCalls
			if outcome.Final != nil {
				text = outcome.Final.Text
			}
		}
		if err != nil {
			return "", err
		}
	} else {
		state.History = append(state.History, llmkit.AssistantMessage(resp.Text))
	}

	return resolveChoice(text, choice), nil
}

func (in *Interpreter) runBlock(ctx context.Context, block *script.ControlFlowBlock, state *ConversationState, depth int) error {
	rt := in.runtime(state)
	runBody := func(body []script.Instruction) {
		for _, instr := range body {
			if err := in.Instructions.Run(rt, instr); err != nil {
				in.warn(instr.Name + ": " + err.Error())
			}
		}
	}

	switch block.Kind {
	case script.BlockIf:
		if EvalCondition(block.Cond, state.Env) {
			runBody(block.Body)
		} else {
			runBody(block.Else)
		}

	case script.BlockWhile:
		for i := 0; i < MaxLoopIterations && EvalCondition(block.Cond, state.Env); i++ {
			runBody(block.Body)
		}

	case script.BlockFor:
		itemVar, listExpr, ok := splitForClause(block.Cond)
		if !ok {
			return fmt.Errorf("malformed for clause %q", block.Cond)
		}
		items := state.Env.Lookup(listExpr).List()
		for i, item := range items {
			if i >= MaxLoopIterations {
				break
			}
			state.Env.Set(itemVar, item)
			runBody(block.Body)
		}

	case script.BlockMatch:
		matched := state.Env.Lookup(strings.TrimSpace(block.Cond))
		for _, c := range block.Cases {
			// Bare case values are literals, not variable references.
			if matched.Equal(resolveAssignment(strings.TrimSpace(c.Value), state.Env)) {
				runBody(c.Body)
				return nil
			}
		}
		runBody(block.Default)

	case script.BlockPipe:
		for _, elem := range block.Pipe {
			if err := in.runPipeElement(ctx, elem, state, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// runPipeElement runs one pipe chain element: a $instruction, or a nested
// script that sees the current environment and whose mutations fold back.
func (in *Interpreter) runPipeElement(ctx context.Context, elem string, state *ConversationState, depth int) error {
	if strings.HasPrefix(elem, "$") {
		name, args, _ := strings.Cut(strings.TrimPrefix(elem, "$"), " ")
		if err := in.Instructions.Run(in.runtime(state), script.Instruction{Name: name, Args: strings.TrimSpace(args)}); err != nil {
			in.warn(name + ": " + err.Error())
		}
		return nil
	}

	if in.Loader == nil {
		return fmt.Errorf("pipe element %q: no script loader configured", elem)
	}
	sub, err := in.Loader.Load(elem)
	if err != nil {
		return err
	}

	params := map[string]string{}
	for name, v := range state.Env.Snapshot() {
		params[name] = v.Text()
	}
	subState := &ConversationState{Env: NewEnv(params)}
	before := subState.Env.Snapshot()
	if err := in.runScript(ctx, sub, subState, depth+1); err != nil {
		return fmt.Errorf("pipe %q: %w", elem, err)
	}

	// Only environment mutations survive the nested run.
	for name, v := range subState.Env.Snapshot() {
		if prev, ok := before[name]; !ok || !prev.Equal(v) {
			state.Env.Set(name, v)
		}
	}
	state.ToolCalls += subState.ToolCalls
	state.AICalls += subState.AICalls
	return nil
}

// runChain loads and runs the chain target as a sub-invocation seeded
// with content = the current turn result, folding its result back.
func (in *Interpreter) runChain(ctx context.Context, chain *script.ChainDirective, state *ConversationState, depth int) error {
	if in.Loader == nil {
		return fmt.Errorf("chain to %q: no script loader configured", chain.Target)
	}
	sub, err := in.Loader.Load(chain.Target)
	if err != nil {
		return err
	}

	params := map[string]string{"content": finalText(state.Env)}
	for name, raw := range chain.Params {
		params[name] = resolveAssignment(raw, state.Env).Text()
	}

	subState := &ConversationState{Env: NewEnv(params)}
	if err := in.runScript(ctx, sub, subState, depth+1); err != nil {
		return fmt.Errorf("chain %q: %w", chain.Target, err)
	}

	bindResponse(state.Env, nil, finalText(subState.Env))
	state.ToolCalls += subState.ToolCalls
	state.AICalls += subState.AICalls
	state.History = append(state.History, subState.History...)
	return nil
}

// bindResponse stores a model (or pipeline) response under the placeholder
// variable and the standard result slots.
func bindResponse(env *Env, ph *script.Placeholder, text string) {
	if ph != nil && ph.BindVar != "" {
		env.Set(ph.BindVar, StringValue(text))
	}
	env.Set("LatestResult", StringValue(text))
	env.Set("RESPONSE", StringValue(text))
}

// finalText is RESPONSE, else LatestResult, else empty.
func finalText(env *Env) string {
	if v := env.Get("RESPONSE"); !v.IsNull() {
		return v.Text()
	}
	if v := env.Get("LatestResult"); !v.IsNull() {
		return v.Text()
	}
	return ""
}

// effectiveUserMessage is the text the pipeline heuristics classify: the
// current message when it is user-role, else the latest user entry.
func (in *Interpreter) effectiveUserMessage(state *ConversationState, turn *script.Turn, mi int) string {
	msg := turn.Messages[mi]
	if msg.Role == "user" {
		return state.Env.Render(script.StripPlaceholder(msg.Content))
	}
	if text := lastUserText(state.History); text != "" {
		return text
	}
	return state.Env.Render(script.StripPlaceholder(msg.Content))
}

func lastUserText(history []llmkit.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llmkit.RoleUser && strings.TrimSpace(history[i].Text) != "" {
			return history[i].Text
		}
	}
	return ""
}

// splitForClause parses `item in list` into its two halves.
func splitForClause(clause string) (itemVar, listExpr string, ok bool) {
	parts := strings.SplitN(clause, " in ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	itemVar = strings.TrimSpace(parts[0])
	listExpr = strings.TrimSpace(parts[1])
	return itemVar, listExpr, itemVar != "" && listExpr != ""
}

var errorPatternRe = regexp.MustCompile(`(?i)\b(error|exception|traceback|stack trace|typeerror|syntaxerror|referenceerror|crash(es|ed)?|fail(s|ed|ing)?)\b`)

var modificationKeywords = []string{"fix", "repair", "debug", "update", "change", "modify", "refactor", "upgrade", "improve", "add a", "add the", "remove"}

var newProjectKeywords = []string{"create", "build", "make", "generate", "write", "new app", "new project", "website", "scaffold"}

// minExistingCodeFiles gates the upgrade heuristic: a near-empty workspace
// has nothing to fix.
const minExistingCodeFiles = 2

func (in *Interpreter) isUpgradeTask(task string) bool {
	lower := strings.ToLower(task)
	intent := errorPatternRe.MatchString(task)
	if !intent {
		for _, kw := range modificationKeywords {
			if strings.Contains(lower, kw) {
				intent = true
				break
			}
		}
	}
	if !intent {
		return false
	}
	return in.Workspace != nil && in.Workspace.CountCodeFiles() >= minExistingCodeFiles
}

func isNewProjectTask(task string) bool {
	lower := strings.ToLower(task)
	for _, kw := range newProjectKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func toolDefinitions(registry *tooling.Registry) []llmkit.ToolDefinition {
	if registry == nil {
		return nil
	}
	defs := registry.Definitions()
	out := make([]llmkit.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llmkit.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func (in *Interpreter) runtime(state *ConversationState) *Runtime {
	return &Runtime{
		Env: state.Env,
		Emit: func(text string) {
			in.emit(progress.EventModelText, text, nil)
		},
	}
}

func (in *Interpreter) emit(kind progress.Kind, msg string, data map[string]interface{}) {
	if in.Emitter != nil {
		in.Emitter.Emit(kind, msg, data)
	}
}

func (in *Interpreter) warn(msg string) {
	if in.Emitter != nil {
		in.Emitter.Warn(msg)
	}
}
