package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glimte/svcbus"
	"github.com/glimte/svcbus/contracts"
	"github.com/glimte/svcbus/health"
	"github.com/glimte/svcbus/interceptors"
	"github.com/glimte/svcbus/internal/services/auth"
	"github.com/glimte/svcbus/internal/services/user"
	"github.com/glimte/svcbus/monitor"
)

func newRunCmd(a *app) *cobra.Command {
	var healthAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the service's supervised consumer",
		Long: `Declares the service topology and consumes its queue until interrupted.
The user and auth services get their built-in handlers; any other service
logs the events it receives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := a.newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			handler, bindings := a.handlerFor(svc)
			handler = a.intercept(handler)

			fileBindings, err := a.cfg.Bindings()
			if err != nil {
				return err
			}
			bindings = append(bindings, fileBindings...)

			if healthAddr != "" {
				server := a.serveHealth(svc, healthAddr)
				defer server.Close()
			}

			a.logger.Info("service starting",
				"service", a.cfg.Service,
				"queue", svc.Config().RoutingKey,
				"extraBindings", len(bindings))

			err = svc.Run(ctx, handler, bindings...)
			if errors.Is(err, context.Canceled) {
				a.logger.Info("service stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Serve /healthz on this address, e.g. :8081")
	return cmd
}

// intercept wraps handler with logging, the handler timeout and optional retries
func (a *app) intercept(handler svcbus.Handler) svcbus.Handler {
	chain := interceptors.NewInterceptorChain(a.logger).
		Add(interceptors.NewLoggingInterceptor(a.logger))
	if a.cfg.HandlerRetries > 0 {
		chain.Add(interceptors.NewRetryInterceptor(a.cfg.HandlerRetries, 100*time.Millisecond, 2*time.Second).WithLogger(a.logger))
	}
	chain.Add(interceptors.NewTimeoutInterceptor(a.cfg.HandlerTimeout))
	return chain.Then(handler)
}

// handlerFor picks the handler and extra bindings of the configured service
func (a *app) handlerFor(svc *svcbus.Service) (svcbus.Handler, []contracts.Binding) {
	switch a.cfg.Service {
	case user.ServiceName:
		return user.NewHandler(svc, user.NewMemoryDirectory(), a.logger).Handle, nil
	case auth.ServiceName:
		return auth.NewHandler(auth.NewMemoryStore(), a.logger).Handle, auth.Bindings()
	default:
		return func(ctx context.Context, e *contracts.Event) error {
			a.logger.Info("event received",
				"exchange", e.Metadata.Exchange,
				"request", e.IsRequest(),
				"body", e.Body)
			return nil
		}, nil
	}
}

func (a *app) serveHealth(svc *svcbus.Service, addr string) *http.Server {
	registry := a.healthRegistry(svc)

	tracker := health.NewConnectionTracker()
	svc.Connection().AddStateListener(tracker)
	registry.Register(tracker)
	registry.Register(health.NewConsumerChecker(svc.Consumer()))
	registry.Register(health.NewSupervisorChecker(svc.Supervisor(), 0))
	registry.Register(health.NewPendingChecker(svc.Pending(), a.cfg.RPCTimeout))

	mux := http.NewServeMux()
	mux.Handle("/healthz", health.NewHandler(registry, 5*time.Second))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("health server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("health endpoint listening", "addr", fmt.Sprintf("%s/healthz", addr))
	return server
}

// healthRegistry holds the broker and queue checks shared by run and health
func (a *app) healthRegistry(svc *svcbus.Service) *health.Registry {
	cfg := svc.Config()
	inspector := monitor.NewQueueInspector(svc.Connection())

	registry := health.NewRegistry()
	registry.SetMetadata("service", a.cfg.Service)
	registry.SetMetadata("version", version)
	registry.Register(health.NewRabbitMQChecker(svc.Connection(), a.logger))
	registry.Register(monitor.NewQueueChecker(inspector, cfg.RoutingKey))
	registry.Register(monitor.NewDeadLetterChecker(inspector, cfg.DeadLetterQueue))
	return registry
}
