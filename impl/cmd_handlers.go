package impl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aceeric/offliner/impl/notify"
	"github.com/aceeric/offliner/impl/offliner"
	"github.com/aceeric/offliner/impl/update"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// size of the per-client event queue
const eventQueue = 16

// cycleResult is returned by /cmd/update?wait=true
type cycleResult struct {
	Outcome update.Outcome `json:"outcome"`
	Version string         `json:"version,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// GET /health
func (s *OfflinerServer) Health(ctx echo.Context) error {
	return ctx.NoContent(http.StatusOK)
}

// GET /cmd/stop
func (s *OfflinerServer) CmdStop(ctx echo.Context) error {
	select {
	case s.shutdownCh <- true:
	default:
		log.Warn("stop already requested")
	}
	return ctx.NoContent(http.StatusOK)
}

// GET /cmd/status
func (s *OfflinerServer) CmdStatus(ctx echo.Context) error {
	st, err := s.offliner.Status(ctx.Request().Context())
	if err != nil {
		return ctx.String(http.StatusInternalServerError, err.Error()+"\n")
	}
	return ctx.JSON(http.StatusOK, st)
}

// GET|POST /cmd/activate
func (s *OfflinerServer) CmdActivate(ctx echo.Context) error {
	activated, err := s.offliner.Activate(ctx.Request().Context())
	if err != nil {
		return ctx.String(http.StatusInternalServerError, err.Error()+"\n")
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"activated": activated})
}

// GET|POST /cmd/update?wait=true. Without wait the cycle runs in the background.
func (s *OfflinerServer) CmdUpdate(ctx echo.Context) error {
	cy := s.offliner.Controller().Update(false)
	if ctx.QueryParam("wait") != "true" {
		return ctx.NoContent(http.StatusAccepted)
	}
	rctx := ctx.Request().Context()
	if err := cy.Wait(rctx); err != nil && rctx.Err() != nil {
		return ctx.NoContent(http.StatusRequestTimeout)
	}
	outcome, version, err := cy.Result()
	res := cycleResult{Outcome: outcome, Version: version}
	if err != nil {
		res.Error = err.Error()
	}
	return ctx.JSON(http.StatusOK, res)
}

// GET|POST /cmd/message?msg=activate|update
func (s *OfflinerServer) CmdMessage(ctx echo.Context) error {
	msg := strings.TrimSpace(ctx.QueryParam("msg"))
	if err := s.offliner.ProcessMessage(ctx.Request().Context(), msg); err != nil {
		if errors.Is(err, offliner.ErrUnknownMessage) {
			return ctx.String(http.StatusBadRequest, err.Error()+"\n")
		}
		return ctx.String(http.StatusInternalServerError, err.Error()+"\n")
	}
	return ctx.NoContent(http.StatusOK)
}

// GET /cmd/events streams lifecycle events as server-sent events until the client goes away
func (s *OfflinerServer) CmdEvents(ctx echo.Context) error {
	obs := notify.NewChannelObserver(eventQueue)
	remove := s.offliner.Observe(obs)
	defer remove()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case ev := <-obs.C:
			b, err := json.Marshal(ev)
			if err != nil {
				log.Errorf("unable to marshal event %s: %s", ev.ID, err)
				continue
			}
			if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, b); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}
