// Package safego launches background goroutines that cannot take the process down.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine. A panic in fn is recovered and logged with the
// task name and stack. Every fire-and-forget goroutine in the relay, such as
// asynchronous audit writes, goes through here.
func Go(task string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine",
					"task", task,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
