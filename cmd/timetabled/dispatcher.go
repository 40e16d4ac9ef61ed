// Package main provides the timetable daemon.
package main

import (
	"github.com/yihtzu/timetable/core/internal/logging"
	"github.com/yihtzu/timetable/core/internal/notify"
)

// newDispatcher builds the fired-notification side effects: a UI event
// over the WebSocket hub, plus sound playback and a system notification
// delegated to the connected client. Dispatch failures are the
// scheduler's to log and swallow; a tick must never abort because a
// client was deaf.
func newDispatcher(hub *WSHub) notify.Dispatcher {
	return notify.DispatcherFunc(func(n notify.Notification) error {
		hub.BroadcastNotificationFired(n)

		if n.SoundRef != "" {
			// The daemon has no audio device; the UI client owns
			// playback and receives the sound reference in the event.
			logging.Debug("Sound playback delegated to client", map[string]interface{}{
				"id":        n.ID,
				"sound_ref": n.SoundRef,
			})
		}
		return nil
	})
}
