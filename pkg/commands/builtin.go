package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"assistant/pkg/state"
	"assistant/pkg/version"
)

// MemoryKeyPrefix namespaces assistant memory in the state store.
const MemoryKeyPrefix = "memory:"

var processStartTime = time.Now()

// RegisterBuiltinCommands registers the memory commands and SYSTEM_STATUS.
func RegisterBuiltinCommands(registry *Registry, kv state.KV) error {
	builtins := []*Command{
		{
			Name:        "MEMORY_GET",
			Kind:        KindData,
			Description: "Read one remembered value",
			Usage:       `{"key": "<key>"}`,
			Handler:     memoryGetHandler(kv),
		},
		{
			Name:        "MEMORY_LIST",
			Kind:        KindData,
			Description: "List remembered values",
			Usage:       `{"prefix": "<optional key prefix>"}`,
			Handler:     memoryListHandler(kv),
		},
		{
			Name:        "MEMORY_SET",
			Kind:        KindAction,
			Description: "Remember a value",
			Usage:       `{"key": "<key>", "value": <any>}`,
			Handler:     memorySetHandler(kv),
			Describe: func(params map[string]any) string {
				return fmt.Sprintf("Remember %q = %v", stringParam(params, "key"), params["value"])
			},
		},
		{
			Name:        "MEMORY_DELETE",
			Kind:        KindAction,
			Description: "Forget a remembered value",
			Usage:       `{"key": "<key>"}`,
			Handler:     memoryDeleteHandler(kv),
			Describe: func(params map[string]any) string {
				return fmt.Sprintf("Forget %q", stringParam(params, "key"))
			},
		},
		{
			Name:        "SYSTEM_STATUS",
			Kind:        KindData,
			Description: "Report assistant runtime status",
			Usage:       `{}`,
			Handler:     statusHandler,
		},
	}

	for _, cmd := range builtins {
		if err := registry.Register(cmd); err != nil {
			return fmt.Errorf("failed to register %s: %w", cmd.Name, err)
		}
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func requireKey(params map[string]any) (string, error) {
	key := stringParam(params, "key")
	if key == "" {
		return "", fmt.Errorf("param \"key\" is required")
	}
	return key, nil
}

func memoryGetHandler(kv state.KV) Handler {
	return func(ctx context.Context, req Request) (Response, error) {
		key, err := requireKey(req.Command.Params)
		if err != nil {
			return Response{}, err
		}
		value, ok, err := kv.Get(ctx, MemoryKeyPrefix+key)
		if err != nil {
			return Response{}, err
		}
		if !ok {
			return Response{Details: fmt.Sprintf("nothing remembered for %q", key), Data: map[string]any{"key": key, "found": false}}, nil
		}
		return Response{
			Details: fmt.Sprintf("%s = %v", key, value),
			Data:    map[string]any{"key": key, "found": true, "value": value},
		}, nil
	}
}

func memoryListHandler(kv state.KV) Handler {
	return func(ctx context.Context, req Request) (Response, error) {
		prefix := stringParam(req.Command.Params, "prefix")
		keys, err := kv.Keys(ctx, MemoryKeyPrefix+prefix)
		if err != nil {
			return Response{}, err
		}

		entries := make(map[string]any, len(keys))
		for _, k := range keys {
			v, ok, err := kv.Get(ctx, k)
			if err != nil {
				return Response{}, err
			}
			if ok {
				entries[strings.TrimPrefix(k, MemoryKeyPrefix)] = v
			}
		}
		return Response{
			Details: fmt.Sprintf("%d remembered values", len(entries)),
			Data:    map[string]any{"entries": entries},
		}, nil
	}
}

func memorySetHandler(kv state.KV) Handler {
	return func(ctx context.Context, req Request) (Response, error) {
		key, err := requireKey(req.Command.Params)
		if err != nil {
			return Response{}, err
		}
		value, ok := req.Command.Params["value"]
		if !ok {
			return Response{}, fmt.Errorf("param \"value\" is required")
		}
		if err := kv.Set(ctx, MemoryKeyPrefix+key, value); err != nil {
			return Response{}, err
		}
		return Response{Details: fmt.Sprintf("remembered %q", key)}, nil
	}
}

func memoryDeleteHandler(kv state.KV) Handler {
	return func(ctx context.Context, req Request) (Response, error) {
		key, err := requireKey(req.Command.Params)
		if err != nil {
			return Response{}, err
		}
		if err := kv.Delete(ctx, MemoryKeyPrefix+key); err != nil {
			return Response{}, err
		}
		return Response{Details: fmt.Sprintf("forgot %q", key)}, nil
	}
}

func statusHandler(ctx context.Context, req Request) (Response, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(processStartTime).Round(time.Second)
	return Response{
		Details: fmt.Sprintf("version %s, up %s", version.GetVersion(), uptime),
		Data: map[string]any{
			"version":   version.GetFullVersion(),
			"os":        runtime.GOOS + "/" + runtime.GOARCH,
			"go":        runtime.Version(),
			"uptime":    uptime.String(),
			"memory_mb": float64(mem.Alloc) / 1024.0 / 1024.0,
			"now":       time.Now().Format(time.RFC3339),
		},
	}, nil
}
