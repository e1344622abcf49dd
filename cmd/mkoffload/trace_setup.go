package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mkoffload/internal/config"
	"mkoffload/internal/trace"
)

// setupTracing initializes the tracer from the resolved configuration and
// attaches it to the command context. It returns a cleanup function.
func setupTracing(cmd *cobra.Command, cfg config.Config) (func(), error) {
	tc, err := cfg.TracerConfig()
	if err != nil {
		return nil, err
	}

	if tc.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	tracer, err := trace.New(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	cleanup := func() {
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}
