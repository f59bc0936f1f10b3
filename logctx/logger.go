// Package logctx adapts go.uber.org/zap to api.Logger, the structured
// logging contract the kernel accepts but never constructs itself.
package logctx

import (
	"go.uber.org/zap"

	"github.com/monocoque/monocoque/api"
)

// Zap wraps a *zap.SugaredLogger to satisfy api.Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// New builds a Zap logger from an already-constructed SugaredLogger,
// letting callers control zap's own config (encoding, level, sinks).
func New(sugar *zap.SugaredLogger) Zap {
	return Zap{sugar: sugar}
}

// NewProduction builds a Zap logger using zap's production defaults
// (JSON encoding, info level, stderr).
func NewProduction() (Zap, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return Zap{}, err
	}
	return Zap{sugar: l.Sugar()}, nil
}

func (z Zap) Debugw(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z Zap) Infow(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z Zap) Warnw(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z Zap) Errorw(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

var _ api.Logger = Zap{}
