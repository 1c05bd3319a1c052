package actiongate

import "context"

// Wrap returns a ToolFunc that routes every call to the named tool through
// the gate. Agent frameworks can hold the result in place of the raw tool.
func (c *Client) Wrap(toolName string) ToolFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		return c.Execute(ctx, toolName, args)
	}
}

// Funcs returns a governed ToolFunc for every registered tool.
func (c *Client) Funcs() map[string]ToolFunc {
	names := c.gate.Registry().Names()
	out := make(map[string]ToolFunc, len(names))
	for _, n := range names {
		out[n] = c.Wrap(n)
	}
	return out
}
