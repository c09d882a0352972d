// Package telemetry wires observability into the engine's infrastructure
// clients: otel instrumentation and slog hooks on redis, plus the prometheus
// collectors for broadcast fanout and websocket connections.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments the client with otel tracing and metrics and logs
// connection lifecycle through slog. Per-command logging is debug level only:
// every submit touches redis, so anything louder drowns the rest of the logs.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument redis metrics: %w", err)
	}
	r.AddHook(redisLogHook{})
	return nil
}

type redisLogHook struct{}

func (redisLogHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			slog.ErrorContext(ctx, "redis: dial failed", "addr", addr, "error", err)
			return nil, err
		}
		slog.InfoContext(ctx, "redis: connected", "addr", addr)
		return conn, nil
	}
}

func (redisLogHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		slog.DebugContext(ctx, "redis: command", "name", cmd.Name(), "error", err)
		return err
	}
}

func (redisLogHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		slog.DebugContext(ctx, "redis: pipeline", "commands", len(cmds), "error", err)
		return err
	}
}
