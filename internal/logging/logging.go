package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger every component derives from.
func New(service, version string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}
