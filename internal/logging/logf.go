package logging

import "github.com/rs/zerolog/log"

func Tracef(format string, args ...any) {
	log.Logger.Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	log.Logger.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	log.Logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	log.Logger.Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	log.Logger.Error().Msgf(format, args...)
}
