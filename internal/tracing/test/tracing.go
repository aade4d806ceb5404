package test

import (
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/tracing"
)

// Tracer returns a noop tracer for use in tests
func Tracer(log *logger.Logger) *tracing.Tracer {
	return tracing.NewNoop(log, "test")
}
