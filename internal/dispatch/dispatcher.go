package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/ppiankov/actiongate/internal/model"
)

const (
	// DefaultTimeout bounds a single tool invocation.
	DefaultTimeout = 30 * time.Second
	// MaxErrorRunes caps error text shown to callers.
	MaxErrorRunes = 500
	// MaxStackFrames caps the operator-facing panic stack.
	MaxStackFrames = 3
)

// Failure codes carried in Result.Code.
const (
	CodeBadJSON     = "bad_json_args"
	CodeUnknownTool = "unknown_tool"
	CodeInvalidArgs = "invalid_args"
	CodeTimeout     = "timeout"
	CodeCancelled   = "cancelled"
	CodePanic       = "panic"
	CodeError       = "error"
	CodeRefused     = "refused"
)

// Call is one tool invocation request.
type Call struct {
	ToolName string
	RawArgs  string
	Context  ToolContext
}

// Result is the structured outcome of a call. OK results carry Data;
// failed ones carry Error, Tool, Args and, for panics, Stack.
type Result struct {
	OK      bool     `json:"ok"`
	Data    any      `json:"data,omitempty"`
	Before  any      `json:"-"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
	Tool    string   `json:"tool,omitempty"`
	Args    string   `json:"args,omitempty"`
	Stack   []string `json:"stack,omitempty"`
	Refused bool     `json:"refused,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Err returns nil for OK results, otherwise an error marked with the
// matching taxonomy sentinel.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	base := errors.Newf("%s: %s", r.Tool, r.Error)
	switch r.Code {
	case CodeUnknownTool:
		return errors.Mark(base, model.ErrToolNotFound)
	case CodeBadJSON, CodeInvalidArgs:
		return errors.Mark(base, model.ErrArgumentParse)
	case CodeRefused:
		return errors.Mark(errors.Newf("%s: refused: %s", r.Tool, r.Reason), model.ErrPolicyDenied)
	default:
		return errors.Mark(base, model.ErrToolExecution)
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithLogger sets the logger panics and timeouts are reported to.
func WithLogger(l *log.Logger) Option {
	return func(x *Dispatcher) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithConcurrency bounds DispatchBatch parallelism.
func WithConcurrency(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// Dispatcher executes registered tools. Dispatch never panics and never
// blocks longer than the configured timeout.
type Dispatcher struct {
	registry    *Registry
	timeout     time.Duration
	concurrency int
	logger      *log.Logger
}

// NewDispatcher creates a dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    reg,
		timeout:     DefaultTimeout,
		concurrency: 8,
		logger:      log.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Timeout returns the per-call timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// ParseArgs decodes raw argument text into an object. Empty text is {}.
func ParseArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return m, nil
}

// Dispatch runs one call: parse, resolve, validate, invoke.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	fail := func(code, msg string) Result {
		return Result{Code: code, Error: truncate(msg), Tool: call.ToolName, Args: call.RawArgs}
	}

	args, err := ParseArgs(call.RawArgs)
	if err != nil {
		return fail(CodeBadJSON, CodeBadJSON)
	}

	tool, ok := d.registry.Lookup(call.ToolName)
	if !ok {
		return fail(CodeUnknownTool, CodeUnknownTool)
	}

	raw := []byte(call.RawArgs)
	if strings.TrimSpace(call.RawArgs) == "" {
		raw = []byte("{}")
	}
	if err := d.registry.Validate(call.ToolName, raw); err != nil {
		return fail(CodeInvalidArgs, err.Error())
	}

	return d.invoke(ctx, tool, args, call)
}

type reply struct {
	out   Outcome
	err   error
	stack []string
}

func (d *Dispatcher) invoke(parent context.Context, tool Tool, args map[string]any, call Call) Result {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("panic: %v", r), stack: panicFrames(MaxStackFrames)}
			}
		}()
		out, err := tool.Handler(ctx, args, call.Context)
		done <- reply{out: out, err: err}
	}()

	fail := func(code, msg string) Result {
		return Result{Code: code, Error: truncate(msg), Tool: call.ToolName, Args: call.RawArgs}
	}

	select {
	case r := <-done:
		switch {
		case r.stack != nil:
			d.logger.Error("tool panicked", "tool", call.ToolName, "error", r.err, "stack", strings.Join(r.stack, " | "))
			res := fail(CodePanic, r.err.Error())
			res.Stack = r.stack
			return res
		case r.err != nil && ctx.Err() != nil:
			return d.expired(parent, call)
		case r.err != nil:
			return fail(CodeError, r.err.Error())
		case r.out.Refused:
			return Result{
				Code:    CodeRefused,
				Error:   CodeRefused,
				Tool:    call.ToolName,
				Args:    call.RawArgs,
				Refused: true,
				Reason:  r.out.Reason,
			}
		default:
			return Result{OK: true, Data: r.out.Data, Before: r.out.Before, Tool: call.ToolName}
		}
	case <-ctx.Done():
		return d.expired(parent, call)
	}
}

// expired reports a call whose context ended before the handler finished.
func (d *Dispatcher) expired(parent context.Context, call Call) Result {
	res := Result{Tool: call.ToolName, Args: call.RawArgs}
	if errors.Is(parent.Err(), context.Canceled) {
		res.Code, res.Error = CodeCancelled, "cancelled"
		return res
	}
	d.logger.Warn("tool timed out", "tool", call.ToolName, "timeout", d.timeout)
	res.Code, res.Error = CodeTimeout, fmt.Sprintf("timeout after %s", d.timeout)
	return res
}

// panicFrames returns up to n "function file:line" frames of the
// panicking goroutine, skipping runtime internals.
func panicFrames(n int) []string {
	pcs := make([]uintptr, 32)
	count := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:count])

	var out []string
	for len(out) < n {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") && f.Function != "" {
			out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxErrorRunes {
		return s
	}
	return string(r[:MaxErrorRunes])
}
