package appcontext

import (
	"go.uber.org/zap"
)

// AppContext carries the process wide collaborators. Per call values such as
// the target environment are passed explicitly and never stored here.
type AppContext struct {
	Logger *zap.SugaredLogger
}

// Named returns a copy whose logger carries the process name.
func (a AppContext) Named(process string) AppContext {
	a.Logger = a.Logger.With("process", process)
	return a
}
