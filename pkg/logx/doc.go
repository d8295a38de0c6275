// Package logx is a thin structured logging layer over zerolog.
//
// It exposes a Field-based API so call sites stay compact, and a Service
// whose sinks/levels can be swapped at runtime via Apply() without
// invalidating loggers already handed out.
package logx
