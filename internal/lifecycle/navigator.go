package lifecycle

import "github.com/rs/zerolog/log"

// Navigator performs redirects requested by the controller.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) {
	f(path)
}

// LogNavigator only logs redirects, for processes with nowhere to navigate to.
type LogNavigator struct{}

func (LogNavigator) Navigate(path string) {
	log.Info().Str("path", path).Msg("navigation requested")
}
