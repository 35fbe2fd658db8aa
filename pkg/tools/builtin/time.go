package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/nstogner/chatd/pkg/tools"
)

const DateLayout = "2006-01-02 15:04:05"

// TimeTool reports the current unix timestamp and the formatted local date.
type TimeTool struct {
	Location *time.Location
	Now      func() time.Time
}

var _ tools.Tool = (*TimeTool)(nil)

func (t *TimeTool) Name() string { return "current_time" }

func (t *TimeTool) Description() string {
	return "Get the current Unix timestamp (seconds) and the current date as YYYY-MM-DD HH:mm:ss. Optionally pass an IANA timezone."
}

func (t *TimeTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. Asia/Shanghai.",
			},
		},
	}
}

func (t *TimeTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}
	if tz, ok := tools.StringArg(input, "timezone"); ok {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}
	ts := now().In(loc)
	return map[string]any{
		"timestamp": ts.Unix(),
		"date":      ts.Format(DateLayout),
		"timezone":  loc.String(),
	}, nil
}
