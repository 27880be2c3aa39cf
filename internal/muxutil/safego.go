// Package muxutil holds small concurrency helpers shared by the request
// multiplexer and the lex/parse/macro drivers.
package muxutil

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// SafeGo launches fn in a goroutine with panic recovery. A dispatched
// handler that panics must not take down the whole endpoint — per §5 a
// handler finishing abnormally is still one outcome among many
// concurrent ones; the multiplexer's pending slots for everything else
// must keep running.
func SafeGo(log *zap.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in dispatched handler",
					zap.Any("recover", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn()
	}()
}
