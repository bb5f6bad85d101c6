// Package tools maps tool-call names to orchestrator operations. It decodes
// arguments into typed structs, invokes the agent and renders either the
// result or an {error, type} object. Transports (HTTP, MCP stdio) sit on top.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/goalagent"
	"OpenMCP-Goals/pkg/logger"
)

// CodeUnknownTool 表示调用了未注册的工具。
const CodeUnknownTool xerrors.Code = "UNKNOWN_TOOL"

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:  "unknown tool",
		Category: xerrors.CategoryNotFound,
		Severity: xerrors.SeverityInfo,
	})
}

// Agent 是工具层依赖的编排器能力。
type Agent interface {
	CreateGoal(ctx context.Context, req goalagent.CreateGoalRequest) (*goal.Goal, error)
	BreakDownGoal(ctx context.Context, goalID string, subtasks []goalagent.Subtask) (*goal.Goal, error)
	GetGoal(ctx context.Context, goalID string) (*goalagent.GoalView, error)
	ListGoals(ctx context.Context, filter goalagent.GoalFilter) ([]*goal.Goal, error)
	UpdateGoal(ctx context.Context, goalID string, patch goalagent.GoalPatch) (*goal.Goal, error)
	DeleteGoal(ctx context.Context, goalID string) (*goalagent.DeleteGoalResult, error)
	GenerateExecutionPlan(ctx context.Context, goalID string) (*goalagent.ExecutionPlan, error)
	GetTask(ctx context.Context, taskID string) (*goalagent.TaskView, error)
	ListTasks(ctx context.Context, filter goalagent.TaskFilter) ([]*goal.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status goal.TaskStatus, result json.RawMessage) (*goal.Task, error)
	GetNextTasks(ctx context.Context, goalID string) ([]*goal.Task, error)
	DeleteTask(ctx context.Context, taskID string) (*goalagent.DeleteTaskResult, error)
	BatchUpdateTasks(ctx context.Context, updates []goalagent.TaskStatusUpdate) (*goalagent.BatchUpdateResult, error)
	BatchGetTasks(ctx context.Context, taskIDs []string) (*goalagent.BatchGetResult, error)
	Stats(ctx context.Context) (*goalagent.Stats, error)
}

var _ Agent = (*goalagent.Agent)(nil)

// ParamType 是参数在 JSON Schema 中的类型。
type ParamType string

const (
	TypeString ParamType = "string"
	TypeArray  ParamType = "array"
	TypeObject ParamType = "object"
)

// Param 描述工具的一个参数。
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`

	// Items 是数组元素的 JSON Schema 类型。
	Items string   `json:"items,omitempty"`
	Enum  []string `json:"enum,omitempty"`
}

// Tool 描述一个可调用的工具。
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	// ReadOnly 的工具不修改任何状态。
	ReadOnly bool `json:"read_only"`

	handler func(ctx context.Context, args json.RawMessage) (any, error)
}

// ErrorResponse 是失败调用的统一输出。批量调用超时时 Partial 携带已完成的部分结果。
type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Partial any    `json:"partial,omitempty"`
}

// RenderError 将错误转换为对外输出的 {error, type}。
func RenderError(err error) ErrorResponse {
	return ErrorResponse{Error: xerrors.MessageOf(err), Type: xerrors.TypeOf(err)}
}

// Registry 保存全部工具定义。
type Registry struct {
	agent Agent
	tools map[string]Tool
}

// NewRegistry 注册所有目标与任务工具。
func NewRegistry(agent Agent) *Registry {
	r := &Registry{agent: agent, tools: make(map[string]Tool)}
	r.registerGoalTools()
	r.registerTaskTools()
	return r
}

func (r *Registry) add(tool Tool) {
	r.tools[tool.Name] = tool
}

// Tools 按名称排序返回工具定义。
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup 返回指定名称的工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Call 执行工具。args 为空时视为空对象。
// 返回 TIMEOUT 错误时 result 可能同时非空，表示超时前已完成的部分。
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, xerrors.New(CodeUnknownTool, fmt.Sprintf("Unknown tool: %s", name), xerrors.WithMetadata("tool", name))
	}
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	result, err := tool.handler(ctx, args)
	log := logger.Named("tools")
	if err != nil {
		log.Debug("工具调用失败",
			slog.String("tool", name),
			slog.String("type", xerrors.TypeOf(err)),
			slog.Duration("duration", time.Since(start)),
		)
		if xerrors.CodeOf(err) == xerrors.CodeTimeout && !isNil(result) {
			return result, err
		}
		return nil, err
	}
	log.Debug("工具调用完成", slog.String("tool", name), slog.Duration("duration", time.Since(start)))
	return result, nil
}

// CallJSON 执行工具并返回 JSON 编码的结果；失败时返回 {error, type}。
// ok 表示调用是否成功。
func (r *Registry) CallJSON(ctx context.Context, name string, args json.RawMessage) (payload []byte, ok bool) {
	result, err := r.Call(ctx, name, args)
	if err != nil {
		resp := RenderError(err)
		resp.Partial = result
		payload, _ = json.MarshalIndent(resp, "", "  ")
		return payload, false
	}
	payload, err = json.MarshalIndent(result, "", "  ")
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeUnknown, err, "编码工具结果失败")
		payload, _ = json.MarshalIndent(RenderError(wrapped), "", "  ")
		return payload, false
	}
	return payload, true
}

// isNil 同时识别 nil 接口与包着 nil 指针的接口。
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// decodeArgs 将参数解码到 dst。
func decodeArgs(args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid arguments: "+err.Error())
	}
	return nil
}

// flexible 同时接受 JSON 值本身和 JSON 编码后的字符串。
// 调用方经常把数组或对象作为字符串传递。
type flexible json.RawMessage

func (f *flexible) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		if inner == "" {
			*f = nil
			return nil
		}
		trimmed = []byte(inner)
	}
	*f = append((*f)[:0], trimmed...)
	return nil
}

// into 解码到 dst，未提供时保持 dst 不变。
func (f flexible) into(field string, dst any) error {
	if len(f) == 0 || bytes.Equal(f, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(f, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("Invalid JSON in %s: %v", field, err))
	}
	return nil
}

func (f flexible) present() bool {
	return len(f) > 0 && !bytes.Equal(f, []byte("null"))
}

func required(field, value string) error {
	if value == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s is required", field))
	}
	return nil
}
