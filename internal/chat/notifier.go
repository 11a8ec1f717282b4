package chat

import "github.com/rs/zerolog"

// Notifier surfaces failures to the person using the client.
type Notifier interface {
	Toast(message string, err error)
	LoginRequired()
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "chat_notifier").Logger()}
}

func (n *LogNotifier) Toast(message string, err error) {
	n.log.Error().Err(err).Msg(message)
}

func (n *LogNotifier) LoginRequired() {
	n.log.Warn().Msg("login required")
}
