package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
)

const (
	shutdownTimeout    = 5 * time.Second
	readHeaderTimeout  = 5 * time.Second
	grpcStatusInterval = 5 * time.Second
)

// newOpsHandler собирает служебный mux: метрики и health-пробы.
func newOpsHandler(gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startHTTPServer запускает сервер в фоне; ошибка запуска уходит в errCh.
func startHTTPServer(name, addr string, handler http.Handler, logger *log.Entry, errCh chan<- error) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		logger.WithFields(log.Fields{"server": name, "addr": addr}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}

// grpcHealth — gRPC сервер со стандартным сервисом grpc.health.v1.
type grpcHealth struct {
	server *grpc.Server
	health *grpchealth.Server
}

func newGRPCHealth(registerer prometheus.Registerer, logger *log.Entry) *grpcHealth {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	health := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, health)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return &grpcHealth{server: server, health: health}
}

func (g *grpcHealth) serve(addr string, logger *log.Entry, errCh chan<- error) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		logger.WithField("addr", addr).Info("grpc health server listening")
		if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return nil
}

// followReadiness переводит статус обслуживания вслед за health-проверками до отмены ctx.
func (g *grpcHealth) followReadiness(ctx context.Context, checks *healthcheck.Handler) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if overall, _ := checks.Evaluate(ctx); overall == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		g.health.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(grpcStatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

func (g *grpcHealth) stop(logger *log.Entry) {
	g.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		g.server.Stop()
	}
}
