package subcmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aceeric/offliner/impl"
	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/impl/globals"
	"github.com/aceeric/offliner/impl/metrics"
	"github.com/aceeric/offliner/impl/notify"
	"github.com/aceeric/offliner/impl/setup"
	"github.com/aceeric/offliner/impl/trigger"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const startupBanner = `----------------------------------------------------------------------
Offliner: offline-first caching server with versioned cache generations
Version: %s, build date: %s
Started: %s (port %d)
Running as (uid:gid) %d:%d
Process id: %d
Upstream: %s
Store: %s
Notify: %s
Updates: %s
Tls: %s
Command line: %v
----------------------------------------------------------------------
`

var (
	// listener will be initialized with the Echo listener once the Echo server
	// is started.
	listener net.Listener
	lmu      sync.Mutex
)

// Serve runs the server, blocking until stopped with CTRL-C, SIGTERM, or via the
// command REST API.
func Serve(buildVer string, buildDtm string) error {
	tlsCfg, err := globals.ParseTls()
	if err != nil {
		return fmt.Errorf("error parsing TLS configuration: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := setup.OpenStore(ctx, config.GetStore())
	if err != nil {
		return fmt.Errorf("error opening the store: %s", err)
	}
	defer store.Close()
	bcast, err := setup.OpenBroadcaster(config.GetNotify())
	if err != nil {
		return fmt.Errorf("error connecting the notifier: %s", err)
	}
	if bcast != nil {
		defer bcast.Close()
	}
	o, err := setup.NewOffliner(ctx, store, bcast)
	if err != nil {
		return fmt.Errorf("error creating the offliner: %s", err)
	}
	defer o.Close()
	o.Observe(notify.LogObserver)

	metrics.InitMetrics(int(config.GetMetrics()))

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("error installing the offline cache: %s", err)
	}

	if tf := config.GetUpdate().TriggerFile; tf != "" {
		w, err := trigger.Watch(tf, func(msg string) error {
			return o.ProcessMessage(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("error watching trigger file %s: %s", tf, err)
		}
		defer w.Close()
	}

	client, err := setup.UpstreamClient()
	if err != nil {
		return fmt.Errorf("error configuring the upstream client: %s", err)
	}
	shutdownCh := make(chan bool, 1)
	srv, err := impl.NewOfflinerServer(o, config.GetUpstream(), client, shutdownCh)
	if err != nil {
		return fmt.Errorf("error creating the server: %s", err)
	}

	// Echo router
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(globals.GetEchoLoggingFunc())
	srv.RegisterHandlers(e)

	fmt.Fprintf(os.Stderr, startupBanner, buildVer, buildDtm, time.Unix(0, time.Now().UnixNano()), config.GetPort(),
		os.Getuid(), os.Getgid(), os.Getpid(), upstreamMsg(), config.GetStore().Type, notifyMsg(), updateMsg(),
		tlsMsg(), strings.Join(os.Args, " "))

	// start the server
	go func() {
		addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(int(config.GetPort())))
		if tlsCfg != nil {
			s := http.Server{
				Addr:      addr,
				Handler:   e,
				TLSConfig: tlsCfg,
			}
			if err := e.StartServer(&s); err != http.ErrServerClosed {
				e.Logger.Fatal("shutting down the server. error:", err)
			}
		} else {
			if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
				e.Logger.Fatal("shutting down the server. error:", err)
			}
		}
	}()
	err = waitForEchoListener(e)
	if err != nil {
		return errors.New("timed out waiting for Echo listener")
	}
	lmu.Lock()
	listener = getEchoListener(e)
	lmu.Unlock()
	log.Info("server is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-shutdownCh:
		log.Infof("received stop command - stopping")
	case sig := <-sigCh:
		log.Infof("received signal %s - stopping", sig)
	}
	e.Server.Shutdown(context.Background())
	log.Infof("stopped")
	return nil
}

// tlsMsg formats the server TLS configuration for the startup banner
func tlsMsg() string {
	msg := "none"
	tlsCfg := config.GetServerTlsCfg()
	if tlsCfg.Cert != "" && tlsCfg.Key != "" {
		msg = fmt.Sprintf("cert=%s, key=%s", tlsCfg.Cert, tlsCfg.Key)
	}
	if tlsCfg.CA != "" {
		msg = fmt.Sprintf("%s, ca=%s", msg, tlsCfg.CA)
	}
	if msg != "none" {
		return fmt.Sprintf("%s, client verify=%s", msg, tlsCfg.ClientAuth)
	}
	return "none"
}

func upstreamMsg() string {
	if config.GetUpstream() == "" {
		return "none (proxy-form requests only)"
	}
	return config.GetUpstream()
}

func notifyMsg() string {
	n := config.GetNotify()
	if n.Url != "" {
		return fmt.Sprintf("%s (%s)", n.Type, n.Url)
	}
	return n.Type
}

func updateMsg() string {
	u := config.GetUpdate()
	if !u.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("every %v", u.Period)
}

// getEchoListener gets the Echo listener. Supports unit testing.
func getEchoListener(e *echo.Echo) net.Listener {
	if e.Listener != nil {
		return e.Listener
	}
	return e.TLSListener
}

// waitForEchoListener waits for the Listener in the Echo server to be initialized. This
// is only used in unit testing so that the unit tests can start the server on ":0" and let
// the http package assign a random port number. Supports unit testing.
func waitForEchoListener(e *echo.Echo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if e.ListenerAddr() != nil || e.TLSListenerAddr() != nil {
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// GetListener supports unit testing.
func GetListener() net.Listener {
	lmu.Lock()
	defer lmu.Unlock()
	return listener
}

// InitListener supports unit testing.
func InitListener() {
	lmu.Lock()
	defer lmu.Unlock()
	listener = nil
}
