// cmd/cartd/main.go
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"whatsdish/internal/adapters/in/http/middleware"
	appcfg "whatsdish/internal/infra/config"
	cartDI "whatsdish/internal/platform/di/cart"
	shared "whatsdish/internal/platform/di/shared"
)

// atomicHandler allows swapping the underlying handler at runtime safely.
type atomicHandler struct {
	v atomic.Value // stores http.Handler
}

func newAtomicHandler(initial http.Handler) *atomicHandler {
	ah := &atomicHandler{}
	if initial == nil {
		initial = http.NotFoundHandler()
	}
	ah.v.Store(initial)
	return ah
}

func (h *atomicHandler) Store(next http.Handler) {
	if next == nil {
		return
	}
	h.v.Store(next)
}

func (h *atomicHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cur := h.v.Load()
	if cur == nil {
		http.NotFound(w, r)
		return
	}
	cur.(http.Handler).ServeHTTP(w, r)
}

func main() {
	ctx := context.Background()

	// ─────────────────────────────────────────────────────────────
	// Log output: stdout + (best-effort) file
	// ─────────────────────────────────────────────────────────────
	{
		logPath := "cartd.log"
		if _, ok := os.LookupEnv("K_SERVICE"); ok {
			logPath = "/tmp/cartd.log"
		}
		if v, ok := os.LookupEnv("CARTD_LOG_FILE"); ok {
			logPath = v
		}

		if logPath == "" {
			log.Printf("[boot] log output = stdout")
		} else if f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644); err == nil {
			log.SetOutput(io.MultiWriter(os.Stdout, f))
			log.Printf("[boot] log output = stdout + %s", logPath)
		} else {
			log.Printf("[boot] WARN: could not open %s: %v (stdout only)", logPath, err)
		}
	}

	cfg := appcfg.Load()

	// ─────────────────────────────────────────────────────────────
	// Start listening ASAP with lightweight mux (healthz only)
	// ─────────────────────────────────────────────────────────────
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	switcher := newAtomicHandler(middleware.CORS(cfg.CORSAllowedOrigins)(healthMux))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      switcher,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ─────────────────────────────────────────────────────────────
	// Lifetime management (infra/container)
	// ─────────────────────────────────────────────────────────────
	var infraHolder atomic.Pointer[shared.Infra]
	var cartHolder atomic.Pointer[cartDI.Container]

	shuttingDown := make(chan struct{})

	// ─────────────────────────────────────────────────────────────
	// Graceful shutdown
	// ─────────────────────────────────────────────────────────────
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		sig := <-c

		close(shuttingDown)
		log.Printf("[boot] received signal: %v; shutting down...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[boot] server shutdown error: %v", err)
		}

		// sessions first: pending deltas are cancelled and carts flushed
		if cont := cartHolder.Swap(nil); cont != nil {
			log.Printf("[boot] closing cart container...")
			if err := cont.Close(); err != nil {
				log.Printf("[boot] cart container close error: %v", err)
			}
		}
		if infra := infraHolder.Swap(nil); infra != nil {
			log.Printf("[boot] closing infra resources...")
			if err := infra.Close(); err != nil {
				log.Printf("[boot] infra close error: %v", err)
			}
		}

		close(idleConnsClosed)
	}()

	// Start server NOW (Cloud Run startup requirement)
	go func() {
		log.Printf("[boot] listening on :%s (cartd)", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[boot] server error: %v", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────
	// Heavy DI init in background; then swap handler to full router
	// ─────────────────────────────────────────────────────────────
	go func() {
		initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		infra, err := shared.NewInfra(initCtx, cfg)
		if err != nil {
			log.Printf("[boot] WARN: shared infra init failed: %v (serving /healthz only)", err)
			return
		}
		infraHolder.Store(infra)

		cont, err := cartDI.NewContainer(initCtx, infra)
		if err != nil {
			if infraHolder.CompareAndSwap(infra, nil) {
				_ = infra.Close()
			}
			log.Printf("[boot] WARN: cart di init failed: %v (serving /healthz only)", err)
			return
		}

		select {
		case <-shuttingDown:
			_ = cont.Close()
			return
		default:
		}

		cartHolder.Store(cont)
		cont.Start(ctx)

		switcher.Store(cartDI.NewRouter(cont))
		log.Printf("[boot] handler switched to cart router")
	}()

	<-idleConnsClosed
	log.Printf("[boot] server stopped")
}
