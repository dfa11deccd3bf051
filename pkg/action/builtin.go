package action

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const maxSleepSeconds = 300

// Builtins returns the actions shipped with the server.
func Builtins() []Definition {
	return []Definition{
		{
			Name:        "echo",
			Description: "Sends `msg` straight back to the dashboard.",
			Fields:      []Field{{Name: "msg", Label: "Message"}},
			Func:        echo,
		},
		{
			Name:        "sleep",
			Description: "Waits `seconds` seconds, reporting a tick each second.",
			Fields:      []Field{{Name: "seconds", Type: FieldNumber, Default: "3"}},
			Func:        sleep,
		},
		{
			Name:        "env",
			Description: "Lists every parameter it was started with, one per line.",
			Fields:      []Field{{Name: "key"}, {Name: "value"}},
			Func:        listParams,
		},
	}
}

// RegisterBuiltins adds every builtin action to r.
func RegisterBuiltins(r *Registry) error {
	for _, def := range Builtins() {
		def.source = sourceBuiltin
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func echo(_ context.Context, params Params, emit Emitter) error {
	emit.Emit(params["msg"])
	return nil
}

func sleep(ctx context.Context, params Params, emit Emitter) error {
	seconds := 3
	if raw := params["seconds"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("seconds must be a non-negative integer, got %q", raw)
		}
		seconds = min(n, maxSleepSeconds)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for i := 1; i <= seconds; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			emit.Emit(fmt.Sprintf("tick %d/%d", i, seconds))
		}
	}
	emit.Emit("done")
	return nil
}

func listParams(_ context.Context, params Params, emit Emitter) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		emit.Emit(k + "=" + params[k])
	}
	return nil
}
