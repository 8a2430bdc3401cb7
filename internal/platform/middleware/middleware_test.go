package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	h := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "front-desk-7")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error { return nil })(c)

	if rec.Header().Get(RequestIDHeader) != "front-desk-7" {
		t.Errorf("expected front-desk-7, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_PassesErrorThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/billing-reports", nil), httptest.NewRecorder())

	want := echo.NewHTTPError(http.StatusNotFound, "report not found")
	err := Logger(zerolog.Nop())(func(c echo.Context) error { return want })(c)
	if err != want {
		t.Errorf("expected handler error to be returned, got %v", err)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error { panic("test panic") })(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	body, ok := httpErr.Message.(apperr.ErrorBody)
	if !ok {
		t.Fatalf("expected apperr.ErrorBody, got %T", httpErr.Message)
	}
	if body.Error != "internal server error" || body.Hint != "" {
		t.Errorf("unexpected body without request id: %+v", body)
	}
	if httpErr.Internal == nil || !strings.Contains(httpErr.Internal.Error(), "test panic") {
		t.Errorf("expected panic value as internal error, got %v", httpErr.Internal)
	}
}

func TestRecovery_ReportsRequestID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/billing-reports/r-1/payments", nil)
	req.Header.Set(RequestIDHeader, "front-desk-9")
	c := e.NewContext(req, httptest.NewRecorder())

	var logs bytes.Buffer
	cause := errors.New("nil ledger")
	h := RequestID()(Recovery(zerolog.New(&logs))(func(c echo.Context) error { panic(cause) }))
	err := h(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	body, _ := httpErr.Message.(apperr.ErrorBody)
	if body.Hint != "request id front-desk-9" {
		t.Errorf("expected request id in hint, got %q", body.Hint)
	}
	if !errors.Is(httpErr.Internal, cause) {
		t.Errorf("expected panicked error to be wrapped, got %v", httpErr.Internal)
	}
	out := logs.String()
	for _, want := range []string{`"request_id":"front-desk-9"`, `"message":"panic recovered"`, "nil ledger"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	h := RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_Expires(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := RequestTimeout(10 * time.Millisecond)(func(c echo.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", httpErr.Code)
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	want := errors.New("boom")
	err := RequestTimeout(time.Second)(func(c echo.Context) error { return want })(c)
	if err != want {
		t.Errorf("expected %v, got %v", want, err)
	}
}
