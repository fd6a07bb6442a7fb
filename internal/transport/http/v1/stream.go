package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/log"
)

const keepAliveInterval = 15 * time.Second

// StreamRun streams a run's events as SSE. The start position is ?from_seq,
// or the seq after Last-Event-ID when a client reconnects.
// GET /v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	from := queryInt64(c, "from_seq", 0)
	if last := c.Request().Header.Get("Last-Event-ID"); last != "" {
		if seq, err := strconv.ParseInt(last, 10, 64); err == nil {
			from = seq + 1
		}
	}

	sub, err := h.service.Attach(ctx, principal(c), runID, from)
	if err != nil {
		return fail(c, err)
	}
	defer sub.Close()

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "streaming not supported", Code: "internal"})
	}
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	w := c.Response().Writer
	for {
		nextCtx, cancel := context.WithTimeout(ctx, keepAliveInterval)
		ev, err := sub.Next(nextCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
			continue
		case ctx.Err() != nil:
			return nil
		default:
			// The consumer fell behind the buffer; report and end the stream.
			log.Warnf("stream %s: %v", runID, err)
			fmt.Fprintf(w, "event: error\ndata: {\"code\":%q,\"error\":%q}\n\n", domain.ErrorCode(err), err.Error())
			flusher.Flush()
			return nil
		}

		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Event, dataOrNull(ev.Data)); err != nil {
			return nil
		}
		flusher.Flush()
		sub.Ack(ev.Seq)
	}
}

// dataOrNull renders event data on a single SSE data line.
func dataOrNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return []byte("null")
	}
	return buf.Bytes()
}
