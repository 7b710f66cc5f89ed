package tcp

import (
	"fmt"

	"github.com/cklxx/taskwarden/internal/domain/task"
)

// argString/argStringOptional/argStringSlice are small, repeated
// request.Data decoders: every command parses its own args struct out
// of the same loosely typed map[string]any wire shape.
func argString(data map[string]any, key string) (string, error) {
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", key)
	}
	return s, nil
}

func argStringOptional(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func argStringSlice(data map[string]any, key string) []string {
	v, ok := data[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func argInt(data map[string]any, key string, def int) int {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func requireData(req *Request) (map[string]any, error) {
	if req.Data == nil {
		return nil, fmt.Errorf("command %q requires a data object", req.Command)
	}
	return req.Data, nil
}

func parsePriority(raw string) (task.Priority, error) {
	switch task.Priority(raw) {
	case task.PriorityLow, task.PriorityMedium, task.PriorityHigh:
		return task.Priority(raw), nil
	case "":
		return task.PriorityMedium, nil
	default:
		return "", fmt.Errorf("invalid priority %q", raw)
	}
}

func parseStatus(raw string) (task.Status, error) {
	switch task.Status(raw) {
	case task.StatusTodo, task.StatusInProgress, task.StatusDone, task.StatusInvalid:
		return task.Status(raw), nil
	case "":
		return task.StatusTodo, nil
	default:
		return "", fmt.Errorf("invalid status %q", raw)
	}
}

func parseKind(raw string) (task.Kind, error) {
	switch task.Kind(raw) {
	case task.KindFeature, task.KindStory, task.KindTask, task.KindImplementation,
		task.KindIntegration, task.KindTesting, task.KindResearch:
		return task.Kind(raw), nil
	case "":
		return task.KindTask, nil
	default:
		return "", fmt.Errorf("invalid task type %q", raw)
	}
}
