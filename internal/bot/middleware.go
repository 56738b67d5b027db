package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "schedbot/pkg/logx"
)

// HandlerFunc serves one command, button or callback.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowHandler promotes the request log line from debug to info.
const slowHandler = time.Second

// Chain wraps h so that mws[0] runs first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// MWTimeout bounds a handler, including the page fetch it may trigger.
func MWTimeout(limit time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if limit <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error so the user still gets a reply.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("handler panic",
					logx.String("cmd", req.Command),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("handler %s panicked: %v", req.Command, r)
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			started := time.Now()
			err := next(ctx, req)
			took := time.Since(started)

			log := req.Logger.With(
				logx.String("cmd", req.Command),
				logx.Int("args", len(req.Args)),
				logx.Duration("took", took),
			)
			if req.Payload != "" {
				log = log.With(logx.String("payload", req.Payload))
			}
			switch {
			case err != nil:
				log.Warn("handler failed", logx.Err(err))
			case took >= slowHandler:
				log.Info("handler slow")
			default:
				log.Debug("handled")
			}
			return err
		}
	}
}
