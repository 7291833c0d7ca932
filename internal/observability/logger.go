package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the global logger scoped to one component and host.
func Logger(component, host string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if host != "" {
		ctx = ctx.Str("host", host)
	}
	return ctx.Logger()
}
