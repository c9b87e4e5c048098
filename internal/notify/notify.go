// Package notify sends desktop notifications.
package notify

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Desktop posts notifications through the platform notification service.
type Desktop struct {
	logger zerolog.Logger
	send   func(title, message string) error
}

// NewDesktop creates a notifier that labels notifications with appName
func NewDesktop(appName string, logger zerolog.Logger) *Desktop {
	if appName != "" {
		beeep.AppName = appName
	}
	return &Desktop{
		logger: logger.With().Str("component", "notify").Logger(),
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Notify shows a notification. Failures are logged and returned.
func (d *Desktop) Notify(title, message string) error {
	if err := d.send(title, message); err != nil {
		d.logger.Debug().Err(err).Str("title", title).Msg("Desktop notification failed")
		return err
	}
	d.logger.Debug().Str("title", title).Msg("Desktop notification sent")
	return nil
}
