package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/checkstream/gateway/internal/proxy"
)

// errorBody is the JSON shape every blocked or failed request returns
// (`{"error":{"message":..., "code":...}}`).
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func newErrorBody(message string, code int) errorBody {
	var b errorBody
	b.Error.Message = message
	b.Error.Code = code
	return b
}

// chatCompletionsHandler implements POST [/<tenant>]/v1/chat/completions:
// Phase 1 screens the prompt; on block it returns the JSON error body with
// the Stop action's status. Otherwise it opens an SSE response and drives
// Phase 2/Phase 3 through it.
func (s *Server) chatCompletionsHandler(c *echo.Context) error {
	rt := s.resolver.Resolve(c.Request().Header, c.Request().URL.Path)
	reqID := requestID(c)

	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, newErrorBody("could not read request body", http.StatusBadRequest))
	}

	var chatReq proxy.ChatRequest
	if err := json.Unmarshal(rawBody, &chatReq); err != nil {
		return c.JSON(http.StatusBadRequest, newErrorBody("malformed request body", http.StatusBadRequest))
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	s.pool.RegisterSession(reqID, cancel)
	defer s.pool.UnregisterSession(reqID)

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, newErrorBody("server is at capacity", http.StatusServiceUnavailable))
	}
	defer release()

	ingress := proxy.RunIngress(ctx, rt, s.audit, reqID, chatReq.FlattenUserPrompt())
	if ingress.Blocked {
		status := ingress.StopStatus
		if status == 0 {
			status = http.StatusForbidden
		}
		return c.JSON(status, newErrorBody(ingress.StopMessage, status))
	}

	outbound := chatReq.WithPrompt(ingress.Text)
	outbound.Stream = true
	outboundBody, err := json.Marshal(outbound)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, newErrorBody("internal server error", http.StatusInternalServerError))
	}

	rawLines, backendErrs := s.backend.StreamCompletion(ctx, rt.BackendURL, outboundBody)

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	events, assembled := proxy.RunMidstream(ctx, rt, s.audit, reqID, rawLines)

	for ev := range events {
		switch {
		case ev.Stop:
			writeSSE(c, map[string]any{"error": map[string]any{"message": ev.StopMessage, "code": ev.StopStatus}})
			writeSSEDone(c)
			drainBackendErr(backendErrs)
			return nil
		case ev.Done:
			writeSSEDone(c)
		default:
			writeSSE(c, map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": ev.Text}}}})
		}
	}

	if err := drainBackendErr(backendErrs); err != nil {
		slog.Warn("backend stream error", "request_id", reqID, "error", err)
	}

	if full, ok := <-assembled; ok {
		proxy.RunEgress(context.WithoutCancel(ctx), rt, s.audit, reqID, full)
	}

	return nil
}

func drainBackendErr(errs <-chan error) error {
	select {
	case err, ok := <-errs:
		if ok {
			return err
		}
	default:
	}
	return nil
}

func writeSSE(c *echo.Context, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	flush(c)
}

func writeSSEDone(c *echo.Context) {
	fmt.Fprint(c.Response(), "data: [DONE]\n\n")
	flush(c)
}

func flush(c *echo.Context) {
	_ = http.NewResponseController(c.Response()).Flush()
}
