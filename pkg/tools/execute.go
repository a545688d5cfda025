package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grinbot/grinbot/pkg/failure"
	"github.com/grinbot/grinbot/pkg/logger"
)

// Execute runs tool with input under timeout (0 means no bound). Handler
// errors and panics come back as failure.ToolExecution, deadline overruns as
// failure.Timeout. A handler that ignores ctx keeps running in the background
// after a timeout; its result is discarded.
func Execute(ctx context.Context, tool Tool, input string, env Env, timeout time.Duration) (string, error) {
	if tool.Input == NoInput {
		input = ""
	}

	logger.InfoCF("tool", "Tool execution started",
		map[string]any{
			"tool":  tool.Name,
			"input": input,
		})

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCF("tool", "Tool panic",
					map[string]any{
						"tool":  tool.Name,
						"panic": fmt.Sprintf("%v", r),
					})
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := tool.Handler(ctx, input, env)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		duration := time.Since(start)
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
				return "", failure.New(failure.Timeout, "tool "+tool.Name, r.err)
			}
			logger.ErrorCF("tool", "Tool execution failed",
				map[string]any{
					"tool":     tool.Name,
					"duration": duration.Milliseconds(),
					"error":    r.err.Error(),
				})
			return "", failure.New(failure.ToolExecution, "tool "+tool.Name, r.err)
		}
		logger.InfoCF("tool", "Tool execution completed",
			map[string]any{
				"tool":          tool.Name,
				"duration_ms":   duration.Milliseconds(),
				"result_length": len(r.out),
			})
		return r.out, nil
	case <-ctx.Done():
		logger.WarnCF("tool", "Tool execution timed out",
			map[string]any{
				"tool":    tool.Name,
				"timeout": timeout.String(),
			})
		kind := failure.Timeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = failure.ToolExecution
		}
		return "", failure.New(kind, "tool "+tool.Name, ctx.Err())
	}
}
