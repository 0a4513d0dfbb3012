package globals

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

func TestXlatLogLevel(t *testing.T) {
	tests := []struct {
		strLevel string
		logLevel log.Level
	}{
		{"DEBUG", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{"WARN", log.WarnLevel},
		{"TRACE", log.TraceLevel},
		{"ERROR", log.ErrorLevel},
		{"ANYTHING-ELSE", log.FatalLevel},
	}
	for _, lvlTest := range tests {
		if xlatLogLevel(lvlTest.strLevel) != lvlTest.logLevel {
			t.FailNow()
		}
	}
}

func TestFileLogging(t *testing.T) {
	td, err := os.MkdirTemp("", "")
	if err != nil {
		t.FailNow()
	}
	defer os.RemoveAll(td)
	logfile := filepath.Join(td, "logfile")
	ConfigureLogging("DEBUG", logfile)
	log.Debug("TEST")
	expectedText := "level=debug msg=TEST"
	content, err := os.ReadFile(logfile)
	if err != nil {
		t.FailNow()
	}
	if !strings.Contains(string(content), expectedText) {
		t.FailNow()
	}
	log.SetOutput(os.Stderr)
}

func TestEchoLoggingSkipsHealth(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	e := echo.New()
	e.Use(GetEchoLoggingFunc())
	e.GET(HealthPath, func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/app.js", func(c echo.Context) error {
		c.Response().Header().Set("X-Offliner-Source", "cache")
		return c.String(http.StatusOK, "x")
	})
	for _, path := range []string{HealthPath, "/app.js"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}
	out := buf.String()
	if strings.Contains(out, HealthPath) {
		t.Fatalf("health should not be logged: %s", out)
	}
	if !strings.Contains(out, "/app.js") || !strings.Contains(out, "source=cache") {
		t.Fatalf("expected request log, got: %s", out)
	}
}
