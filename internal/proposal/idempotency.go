package proposal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// IdempotencyKey identifies "the same action by the same requester".
// It hashes canonical JSON (sorted keys, NFC strings, numbers verbatim)
// of tenant, actor, tool and args, so key order and Unicode composition
// of the arguments do not matter.
func IdempotencyKey(tenantID, actorID, tool string, args json.RawMessage) (string, error) {
	var decoded any = map[string]any{}
	if len(bytes.TrimSpace(args)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return "", fmt.Errorf("decode args: %w", err)
		}
	}
	envelope := map[string]any{
		"tenant": tenantID,
		"actor":  actorID,
		"tool":   tool,
		"args":   decoded,
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, envelope); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if value {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(value.String())
	case string:
		encoded, err := json.Marshal(norm.NFC.String(value))
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(value))
		normalized := make(map[string]any, len(value))
		for k, item := range value {
			nk := norm.NFC.String(k)
			if _, dup := normalized[nk]; dup {
				return fmt.Errorf("key collision after normalisation: %q", nk)
			}
			normalized[nk] = item
			keys = append(keys, nk)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, normalized[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical type %T", v)
	}
	return nil
}
