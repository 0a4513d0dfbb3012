package globals

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const msg = "echo server %s:%s status=%d latency=%s host=%s ip=%s source=%s"

// ConfigureLogging sets the logger level and, if logFile is non-empty, directs
// log output to that file in append mode. If the file can't be opened then logging
// stays on stderr and a warning is logged.
func ConfigureLogging(level string, logFile string) {
	log.SetLevel(xlatLogLevel(level))
	log.SetFormatter(&log.TextFormatter{})
	if logFile == "" {
		return
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warnf("unable to open log file %q, logging to stderr: %s", logFile, err)
		return
	}
	log.SetOutput(io.Writer(f))
}

// xlatLogLevel translates the passed 'level' string to a logger const
func xlatLogLevel(level string) log.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "TRACE":
		return log.TraceLevel
	}
	return log.FatalLevel
}

// GetEchoLoggingFunc gets the server logging function. The source of an intercepted
// response (cache, network, ...) is logged when the handler set it.
func GetEchoLoggingFunc() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			// health is polled by orchestrators and just clutters the log
			if req.URL.Path == HealthPath {
				return nil
			}
			source := res.Header().Get("X-Offliner-Source")
			if source == "" {
				source = "-"
			}
			flds := []any{req.Method, req.RequestURI, res.Status, time.Since(start), req.Host, c.RealIP(), source}

			switch {
			case res.Status >= 500:
				log.Errorf(msg, flds...)
			case res.Status >= 400:
				log.Warnf(msg, flds...)
			default:
				log.Infof(msg, flds...)
			}
			return nil
		}
	}
}
