package actiongate

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// RouteFunc maps an HTTP request to the tool call it performs. ok=false
// means the request is not governed and passes through.
type RouteFunc func(r *http.Request) (toolName string, args map[string]any, ok bool)

// PathRoute governs POST <prefix><tool> requests whose body is a JSON
// object of arguments. The body is restored for the next handler.
func PathRoute(prefix string) RouteFunc {
	return func(r *http.Request) (string, map[string]any, bool) {
		if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, prefix) {
			return "", nil, false
		}
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if name == "" {
			return "", nil, false
		}
		args := map[string]any{}
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
			if len(bytes.TrimSpace(body)) > 0 {
				if err := json.Unmarshal(body, &args); err != nil {
					args = nil
				}
			}
		}
		return name, args, true
	}
}

// Middleware returns an http.Handler that evaluates actiongate policy
// on each governed request before passing to the next handler.
// Blocked requests receive a 403 with a JSON body.
func (c *Client) Middleware(route RouteFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, args, ok := route(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		var result Result
		if args == nil {
			result = Result{Verdict: Deny, Reason: "bad_json_args"}
		} else if res, err := c.Check(r.Context(), name, args); err != nil {
			result = Result{Verdict: Deny, Reason: "unknown_tool: " + name}
		} else {
			result = res
		}

		if !result.Allowed() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked": true,
				"tool":    name,
				"verdict": string(result.Verdict),
				"reason":  result.Reason,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
