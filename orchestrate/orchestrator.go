// Package orchestrate executes model-proposed tool calls and keeps the
// conversation advancing until the model stops or a safety bound trips.
// Independent calls run concurrently; continuations are driven from an
// explicit work stack rather than recursion so the bound is a counter,
// not call-stack depth.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/forgekit/forge/llmkit"
	"github.com/forgekit/forge/metrics"
	"github.com/forgekit/forge/progress"
	"github.com/forgekit/forge/tooling"
)

// DefaultMaxDepth bounds the continuation chain after an initial response.
const DefaultMaxDepth = 10

// Orchestrator runs tool calls against a registry and issues follow-up
// model calls until the model produces a plain-text answer.
type Orchestrator struct {
	Client   *llmkit.Client
	Registry *tooling.Registry
	Emitter  *progress.Emitter

	// MaxDepth overrides DefaultMaxDepth when positive.
	MaxDepth int

	// Incomplete, when set, reports that the overall task still looks
	// unfinished; stall recovery only fires while it returns true.
	Incomplete func() bool
}

// Outcome describes a finished tool-call chain.
type Outcome struct {
	// Final is the last model response, the one whose text answers the turn.
	Final *llmkit.Response

	// Messages are the conversation entries produced by the chain, in order:
	// assistant tool-call messages, tool results, and the closing assistant
	// text. Callers append them to their history.
	Messages []llmkit.Message

	// ToolCalls counts executed calls, suppressed ones included.
	ToolCalls int

	// Stopped is set when a safety bound ended the chain early.
	Stopped bool
}

type frame struct {
	resp  *llmkit.Response
	depth int
}

// Run drives the chain started by initial, which must carry tool calls.
// req supplies the model, tools, and the history up to (excluding) initial.
func (o *Orchestrator) Run(ctx context.Context, req llmkit.Request, initial *llmkit.Response) (*Outcome, error) {
	out := &Outcome{Final: initial}
	if initial == nil || !initial.HasToolCalls() {
		return out, nil
	}

	history := append([]llmkit.Message(nil), req.Messages...)
	log := &callLog{}
	stack := []frame{{resp: initial, depth: 0}}
	stallRetried := false
	todoNudged := false
	todoDone := false

	push := func(resp *llmkit.Response, depth int) {
		stack = append(stack, frame{resp: resp, depth: depth})
	}
	record := func(msgs ...llmkit.Message) {
		history = append(history, msgs...)
		out.Messages = append(out.Messages, msgs...)
	}

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Final = fr.resp

		if fr.depth >= o.maxDepth() {
			o.emit(progress.EventLoopStop, "max continuation depth reached", map[string]interface{}{"depth": fr.depth})
			out.Stopped = true
			return out, nil
		}
		for _, call := range fr.resp.ToolCalls {
			if log.wouldRepeat(call.Name) {
				o.emit(progress.EventLoopStop, "repeated tool call detected: "+call.Name, nil)
				out.Stopped = true
				return out, nil
			}
		}

		record(llmkit.Message{Role: llmkit.RoleAssistant, Text: fr.resp.Text, ToolCalls: fr.resp.ToolCalls})

		calls := fr.resp.ToolCalls
		results := o.ExecuteCalls(ctx, calls, todoDone)
		for i, res := range results {
			record(llmkit.ToolResultMessage(res.ToolCallID, res.Content, res.IsError))
			log.record(calls[i].Name)
			if calls[i].Name == tooling.ToolWriteTodos && !res.IsError {
				todoDone = true
			}
		}
		out.ToolCalls += len(calls)

		next, err := o.continueWith(ctx, req, history)
		if err != nil {
			return out, err
		}
		out.Final = next

		if next.HasToolCalls() {
			push(next, fr.depth+1)
			continue
		}

		// The model stopped without calls. Nudge once after a successful
		// todo-list write, and once more on a generic stall, before
		// accepting the text as final.
		if todoDone && !todoNudged {
			todoNudged = true
			o.emit(progress.EventStallRecovery, "model stopped after planning; directing it to implement", nil)
			record(llmkit.UserMessage("Stop planning and start implementing. Use the available tools to create the files now."))
			if next, err = o.continueWith(ctx, req, history); err != nil {
				return out, err
			}
			out.Final = next
			if next.HasToolCalls() {
				push(next, fr.depth+1)
				continue
			}
		}
		if !stallRetried && looksStalled(next.Text) && o.taskIncomplete() {
			stallRetried = true
			o.emit(progress.EventStallRecovery, "continuation stalled; retrying with a directive", nil)
			record(llmkit.UserMessage("The task is not finished. Continue working: create or modify the remaining files using the available tools."))
			if next, err = o.continueWith(ctx, req, history); err != nil {
				return out, err
			}
			out.Final = next
			if next.HasToolCalls() {
				push(next, fr.depth+1)
				continue
			}
		}

		if next.TrimmedText() != "" {
			record(llmkit.AssistantMessage(next.Text))
		}
		return out, nil
	}
	return out, nil
}

// ExecuteCalls validates and runs calls, partitioned into independent
// groups. Results come back in input order, one per call. When
// suppressTodos is set, write_todos calls are answered without executing.
func (o *Orchestrator) ExecuteCalls(ctx context.Context, calls []llmkit.ToolCall, suppressTodos bool) []llmkit.ToolResult {
	results := make([]llmkit.ToolResult, len(calls))
	for _, group := range PartitionCalls(o.Registry, calls) {
		var wg sync.WaitGroup
		for gi := range group.Calls {
			wg.Add(1)
			go func(idx int, call llmkit.ToolCall) {
				defer wg.Done()
				if suppressTodos && call.Name == tooling.ToolWriteTodos {
					results[idx] = llmkit.ToolResult{
						ToolCallID: call.ID,
						Content:    "Todo list already recorded. Proceed with implementation instead of re-planning.",
					}
					return
				}
				results[idx] = o.executeCall(ctx, call)
			}(group.Indexes[gi], group.Calls[gi])
		}
		wg.Wait()
	}
	return results
}

func (o *Orchestrator) executeCall(ctx context.Context, call llmkit.ToolCall) llmkit.ToolResult {
	start := time.Now()
	o.emit(progress.EventToolCallStart, call.Name, map[string]interface{}{"id": call.ID})

	res := o.invoke(ctx, call)

	outcome := "ok"
	if res.IsError {
		outcome = "error"
	}
	metrics.ObserveTool(call.Name, outcome, time.Since(start))
	o.emit(progress.EventToolCallEnd, call.Name, map[string]interface{}{"id": call.ID, "error": res.IsError})
	return res
}

func (o *Orchestrator) invoke(ctx context.Context, call llmkit.ToolCall) llmkit.ToolResult {
	tool := o.Registry.Get(call.Name)
	if tool == nil {
		return errorResult(call.ID, &tooling.Error{Kind: tooling.ErrNotFound, Tool: call.Name, Message: "unknown tool"})
	}
	params, err := tool.Validate(call.Arguments)
	if err != nil {
		return errorResult(call.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return errorResult(call.ID, &tooling.Error{Kind: tooling.ErrExecution, Tool: call.Name, Message: "canceled", Cause: err})
	}
	result, err := tool.Invoke(ctx, params)
	if err != nil {
		return errorResult(call.ID, err)
	}
	return llmkit.ToolResult{ToolCallID: call.ID, Content: result.Content}
}

// errorResult encodes a tool failure as a structured result the model can
// read and self-correct from.
func errorResult(callID string, err error) llmkit.ToolResult {
	kind := tooling.ErrExecution
	var te *tooling.Error
	if errors.As(err, &te) {
		kind = te.Kind
	}
	payload, _ := json.Marshal(map[string]string{
		"error":   string(kind),
		"message": err.Error(),
	})
	return llmkit.ToolResult{ToolCallID: callID, Content: string(payload), IsError: true}
}

// continueDirective trails every post-tool-result continuation so the model
// is asked to proceed rather than left to interpret a bare result dump.
const continueDirective = "Continue with the task using the tool results above. Answer in plain text once everything is done."

func (o *Orchestrator) continueWith(ctx context.Context, req llmkit.Request, history []llmkit.Message) (*llmkit.Response, error) {
	next := req
	next.Messages = history
	// Only the outgoing copy carries the directive; recorded history stays
	// the bare call/result sequence.
	if n := len(history); n > 0 && history[n-1].Role == llmkit.RoleTool {
		next.Messages = append(append([]llmkit.Message(nil), history...), llmkit.UserMessage(continueDirective))
	}
	o.emit(progress.EventModelCall, "continuation", nil)
	return o.Client.Complete(ctx, next)
}

func (o *Orchestrator) maxDepth() int {
	if o.MaxDepth > 0 {
		return o.MaxDepth
	}
	return DefaultMaxDepth
}

func (o *Orchestrator) taskIncomplete() bool {
	return o.Incomplete != nil && o.Incomplete()
}

func (o *Orchestrator) emit(kind progress.Kind, msg string, data map[string]interface{}) {
	if o.Emitter != nil {
		o.Emitter.Emit(kind, msg, data)
	}
}
