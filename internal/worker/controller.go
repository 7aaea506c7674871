// Package worker is the public protocol boundary around a single
// execution session.
package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/observability"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/supervisor"
	"github.com/mimirlabs/runner/internal/types"
)

// Controller accepts init, run, and interrupt requests, serializes them
// against session state, and returns structured responses.
type Controller struct {
	sess    *session.Session
	sup     *supervisor.Supervisor
	metrics *observability.Metrics
	logger  *logrus.Entry
}

// NewController wraps one session behind the request protocol.
func NewController(sess *session.Session, sup *supervisor.Supervisor, metrics *observability.Metrics) *Controller {
	return &Controller{
		sess:    sess,
		sup:     sup,
		metrics: metrics,
		logger:  logrus.WithField("component", "worker").WithField("session_id", sess.ID()),
	}
}

// Session returns the controlled session.
func (c *Controller) Session() *session.Session {
	return c.sess
}

// Handle processes one protocol request. emit receives at most one
// response per request; init and run responses may arrive after Handle
// returns, protocol violations are rejected synchronously.
func (c *Controller) Handle(ctx context.Context, req types.Request, emit func(types.Response)) {
	switch req.Type {
	case types.RequestInit:
		c.handleInit(ctx, emit)
	case types.RequestRun:
		c.handleRun(req, emit)
	case types.RequestInterrupt:
		c.handleInterrupt(emit)
	default:
		emit(types.Response{
			Type:  types.ResponseError,
			Error: "unknown request type: " + req.Type,
		})
	}
}

// handleInit triggers the load path. Repeat inits while Initializing or
// after Ready are no-ops that produce no further notification; the one
// call that drives the load reports ready or the loading failure.
func (c *Controller) handleInit(ctx context.Context, emit func(types.Response)) {
	if c.sess.State() == session.StateTerminated {
		emit(types.Response{
			Type:  types.ResponseError,
			Error: session.ErrTerminated.Error(),
		})
		return
	}

	go func() {
		first, err := c.sess.Init(ctx)
		if !first {
			return
		}
		if err != nil {
			emit(types.Response{
				Type:  types.ResponseError,
				Error: err.Error(),
			})
			return
		}
		emit(types.Response{Type: types.ResponseReady})
	}()
}

// handleRun validates the submission, takes the Executing transition
// synchronously, and races the guest code against its deadline in the
// background.
func (c *Controller) handleRun(req types.Request, emit func(types.Response)) {
	if req.Code == "" {
		emit(types.Response{
			Type:  types.ResponseError,
			Error: "code is required",
		})
		return
	}

	timeout, err := c.sup.ResolveTimeout(req.Timeout)
	if err != nil {
		emit(types.Response{
			Type:  types.ResponseError,
			Error: err.Error(),
		})
		return
	}

	if err := c.sess.BeginRun(); err != nil {
		emit(types.Response{
			Type:  types.ResponseError,
			Error: err.Error(),
		})
		return
	}

	go func() {
		result := c.sup.Run(c.sess, req.Code, timeout)
		emit(result.Response())
	}()
}

// handleInterrupt unconditionally terminates the session, idle or not.
// The substrate cannot preempt a running call, so cancellation is forced
// termination; the caller must re-initialize before running further code.
func (c *Controller) handleInterrupt(emit func(types.Response)) {
	alreadyDead := c.sess.State() == session.StateTerminated
	c.sess.Terminate()
	if !alreadyDead {
		c.metrics.SessionTerminated("interrupt")
	}
	emit(types.Response{
		Type:  types.ResponseInterrupted,
		Error: "interrupted",
	})
}
