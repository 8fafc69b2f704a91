package cache

import "go.uber.org/zap"

// Diagnostics receives warnings about evictions and refused writes. It is only
// consulted when warnings are enabled on the registry and never affects results.
type Diagnostics interface {
	Warn(message string, err error)
}

type zapDiagnostics struct {
	l *zap.Logger
}

// NewZapDiagnostics reports warnings through l.
func NewZapDiagnostics(l *zap.Logger) Diagnostics {
	if l == nil {
		l = zap.NewNop()
	}
	return zapDiagnostics{l: l}
}

func (d zapDiagnostics) Warn(message string, err error) {
	if err != nil {
		d.l.Warn("kvcache - "+message, zap.Error(err))
		return
	}
	d.l.Warn("kvcache - " + message)
}
