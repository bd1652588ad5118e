package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codayhq/coday/internal/thread"
	"github.com/codayhq/coday/pkg/models"
)

// RunStatus is the state machine driving a single AiClient run (§4.7).
type RunStatus string

const (
	RunIdle      RunStatus = "IDLE"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunStopped   RunStatus = "STOPPED"
	RunFailed    RunStatus = "FAILED"
)

// thinkingInterval is the minimum gap between "thinking" HeartBeat events
// emitted while a provider call is outstanding (§4.7 step 2).
const thinkingInterval = 3 * time.Second

// defaultMaxTokens bounds a single provider call when an agent doesn't
// specify one; mirrors the teacher's provider default.
const defaultMaxTokens = 4096

// ModelPrice is the per-million-token price for a model, used for cost
// accounting (§4.7).
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
	CachePerMTok  float64
}

// PriceTable maps a model name to its ModelPrice.
type PriceTable map[string]ModelPrice

// Loop runs the agentic loop contract of §4.7 over a thread and agent,
// driving a provider until no tool work remains, the thread is stopped, or
// the provider fails.
type Loop struct {
	Provider LLMProvider
	Tools    *ToolRegistry
	Prices   PriceTable

	// PriceThreshold, if non-zero, inhibits the next iteration (emitting a
	// Warn event instead) once CostSoFar would exceed it.
	PriceThreshold float64

	locks    *ThreadLocks
	executor *Executor

	mu        sync.Mutex
	status    map[string]RunStatus
	costSoFar map[string]float64
}

// NewLoop constructs a Loop ready to run agents against threads. Tool
// invocations within an iteration fan out through an Executor bounded to
// DefaultExecutorConfig's worker pool and per-tool timeout (§5).
func NewLoop(provider LLMProvider, tools *ToolRegistry, prices PriceTable) *Loop {
	return &Loop{
		Provider:  provider,
		Tools:     tools,
		Prices:    prices,
		locks:     NewThreadLocks(),
		executor:  NewExecutor(tools, DefaultExecutorConfig()),
		status:    make(map[string]RunStatus),
		costSoFar: make(map[string]float64),
	}
}

// Status returns the current RunStatus for threadID, defaulting to IDLE.
func (l *Loop) Status(threadID string) RunStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.status[threadID]; ok {
		return s
	}
	return RunIdle
}

func (l *Loop) setStatus(threadID string, s RunStatus) {
	l.mu.Lock()
	l.status[threadID] = s
	l.mu.Unlock()
}

// Stop requests cancellation of threadID's run. The current provider call
// and already-dispatched tools still run to completion; the loop simply
// will not recurse into another iteration (§4.7 cancellation).
func (l *Loop) Stop(threadID string) {
	l.setStatus(threadID, RunStopped)
}

// Run drives agent against t, sending every emitted Event to out, until the
// run reaches a terminal state. out is never closed by Run; the caller owns
// its lifecycle since it is typically the session's fan-out channel.
func (l *Loop) Run(ctx context.Context, agent models.Agent, t *thread.AiThread, out chan<- models.Event) RunStatus {
	unlock := l.lockThread(t.ID)
	defer unlock()

	l.setStatus(t.ID, RunRunning)

	for {
		status := l.iterate(ctx, agent, t, out)
		l.setStatus(t.ID, status)
		if status != RunRunning {
			return status
		}
	}
}

func (l *Loop) lockThread(id string) func() {
	if l.locks == nil {
		l.locks = NewThreadLocks()
	}
	return l.locks.Lock(id)
}

// iterate runs one pass of the per-iteration contract and returns either
// RunRunning (recurse), or a terminal status.
func (l *Loop) iterate(ctx context.Context, agent models.Agent, t *thread.AiThread, out chan<- models.Event) RunStatus {
	if l.thresholdExceeded(t.ID) {
		out <- models.NewWarnEvent(models.NowTimestamp(time.Now()), "price threshold exceeded, pausing run")
		return RunCompleted
	}

	req := l.buildRequest(agent, t)

	chunks, err := l.Provider.Complete(ctx, req)
	if err != nil {
		out <- models.NewErrorEvent(models.NowTimestamp(time.Now()), err.Error())
		return RunFailed
	}

	var text string
	var toolCalls []models.ToolCall
	lastHeartbeat := time.Now()

	for chunk := range chunks {
		if chunk.Error != nil {
			out <- models.NewErrorEvent(models.NowTimestamp(time.Now()), chunk.Error.Error())
			return RunFailed
		}
		if chunk.Text != "" {
			text += chunk.Text
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			l.accrueCost(t.ID, req.Model, chunk.InputTokens, chunk.OutputTokens)
		}
		if time.Since(lastHeartbeat) >= thinkingInterval {
			out <- models.NewHeartBeat(models.NowTimestamp(time.Now()))
			lastHeartbeat = time.Now()
		}
	}

	if text != "" {
		msg := models.NewMessage(models.NowTimestamp(time.Now()), models.RoleAssistant, agent.Name, text)
		t.Messages = append(t.Messages, msg)
		out <- msg
	}

	if len(toolCalls) == 0 {
		return RunCompleted
	}

	l.runToolRound(ctx, t, toolCalls, out)

	if l.Status(t.ID) == RunStopped {
		return RunStopped
	}
	return RunRunning
}

// runToolRound appends a ToolRequest per call, dispatches them concurrently,
// then folds the resulting ToolResponses through the thread's dedup rule
// (§4.2) before emitting both events per tool (§4.7 step 6).
func (l *Loop) runToolRound(ctx context.Context, t *thread.AiThread, calls []models.ToolCall, out chan<- models.Event) {
	requests := make([]thread.ToolCallRequest, 0, len(calls))
	for _, c := range calls {
		requests = append(requests, thread.ToolCallRequest{ID: c.ID, Name: c.Name, Args: string(c.Input)})
	}
	t.AddToolCalls(requests)
	for _, r := range requests {
		if r.ID == "" || r.Name == "" || r.Args == "" {
			continue
		}
		out <- models.NewToolRequest(models.NowTimestamp(time.Now()), r.ID, r.Name, r.Args)
	}

	results := l.executor.ExecuteAll(ctx, calls)
	responses := make([]thread.ToolCallResponse, len(results))
	for i, r := range results {
		responses[i] = thread.ToolCallResponse{ID: r.ToolCallID, Output: toolRoundOutput(r)}
	}

	t.AddToolResponses(responses)
	for _, r := range responses {
		if r.ID == "" || r.Output == "" {
			continue
		}
		out <- models.NewToolResponse(models.NowTimestamp(time.Now()), r.ID, r.Output)
	}
}

// toolRoundOutput collapses an ExecutionResult into the ToolResponse.output
// string, prefixing the output with "Error: " on failure rather than
// aborting the round (§4.7 failure semantics, §4.4 tool-invocation contract).
func toolRoundOutput(r *ExecutionResult) string {
	if r.Error != nil {
		return "Error: " + r.Error.Error()
	}
	if r.Result == nil {
		return ""
	}
	if r.Result.IsError {
		return "Error: " + r.Result.Content
	}
	return r.Result.Content
}

func (l *Loop) buildRequest(agent models.Agent, t *thread.AiThread) *CompletionRequest {
	messages := make([]CompletionMessage, 0, len(t.Messages))
	for _, e := range t.Messages {
		switch e.Type {
		case models.EventMessage:
			messages = append(messages, CompletionMessage{Role: string(e.Role), Content: e.Content})
		case models.EventToolRequest:
			messages = append(messages, CompletionMessage{
				Role: "assistant",
				ToolCalls: []models.ToolCall{{
					ID:    e.ToolRequestID,
					Name:  e.Name,
					Input: json.RawMessage(e.Args),
				}},
			})
		case models.EventToolResponse:
			messages = append(messages, CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{{
					ToolCallID: e.ToolRequestID,
					Content:    e.Output,
				}},
			})
		}
	}

	return &CompletionRequest{
		Model:       agent.ModelName,
		System:      agent.SystemInstructions,
		Messages:    messages,
		Tools:       l.Tools.AsLLMTools(),
		MaxTokens:   defaultMaxTokens,
		Temperature: agent.EffectiveTemperature(),
	}
}

func (l *Loop) thresholdExceeded(threadID string) bool {
	if l.PriceThreshold <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costSoFar[threadID] > l.PriceThreshold
}

func (l *Loop) accrueCost(threadID, model string, inputTokens, outputTokens int) {
	price, ok := l.Prices[model]
	if !ok {
		return
	}
	cost := float64(inputTokens)/1_000_000*price.InputPerMTok +
		float64(outputTokens)/1_000_000*price.OutputPerMTok
	l.mu.Lock()
	l.costSoFar[threadID] += cost
	l.mu.Unlock()
}

// NewRunID generates an identifier for a single Run invocation, useful for
// correlating logs across an iteration's provider call and tool dispatch.
func NewRunID() string {
	return uuid.NewString()
}

// ErrProviderUnset is returned when a Loop is constructed without a
// provider and Run is called.
var ErrProviderUnset = fmt.Errorf("agent: loop has no provider configured")
