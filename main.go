package main

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/go-units"
	"github.com/docker/protein-runner/pkg/config"
	"github.com/docker/protein-runner/pkg/gpuinfo"
	"github.com/docker/protein-runner/pkg/inference/adapters"
	"github.com/docker/protein-runner/pkg/inference/memory"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/inference/scheduling"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/metrics"
	"github.com/docker/protein-runner/pkg/middleware"
	"github.com/docker/protein-runner/pkg/routing"
	"github.com/docker/protein-runner/pkg/tailbuffer"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// service is the assembled server and the registry it owns.
type service struct {
	handler  http.Handler
	registry *models.Registry
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logs := tailbuffer.New(cfg.LogLines)
	if log, err = logging.New(cfg.LogLevel, logs); err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	svc, err := newService(ctx, cfg, logs)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	server := &http.Server{Handler: svc.handler}
	serverErrors := make(chan error, 1)

	// Check if we should use TCP port instead of Unix socket
	if cfg.Port != "" {
		log.Infof("Listening on TCP port %s", cfg.Port)
		server.Addr = ":" + cfg.Port
		go func() {
			serverErrors <- server.ListenAndServe()
		}()
	} else {
		if err := os.Remove(cfg.Socket); err != nil {
			if !os.IsNotExist(err) {
				log.Fatalf("Failed to remove existing socket: %v", err)
			}
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Socket, Net: "unix"})
		if err != nil {
			log.Fatalf("Failed to listen on socket: %v", err)
		}
		log.Infof("Listening on unix socket %s", cfg.Socket)
		go func() {
			serverErrors <- server.Serve(ln)
		}()
	}

	registryErrors := make(chan error, 1)
	go func() {
		registryErrors <- svc.registry.Run(ctx)
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
		cancel()
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		if err := server.Close(); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Waiting for loaded models to unload")
	if err := <-registryErrors; err != nil {
		log.Errorf("Registry error: %v", err)
	}
	log.Infoln("Protein Runner stopped")
}

// newService builds the registry, dispatcher and HTTP routes described by
// cfg. Preloaded models are loaded before it returns.
func newService(ctx context.Context, cfg *config.Config, logs *tailbuffer.Buffer) (*service, error) {
	catalog := models.DefaultCatalog()
	if cfg.Catalog != "" {
		var err error
		if catalog, err = models.LoadCatalog(cfg.Catalog); err != nil {
			return nil, err
		}
	}
	backends, err := adapters.Build(log.WithField("component", "adapters"), catalog)
	if err != nil {
		return nil, err
	}

	explicit, err := cfg.Budget()
	if err != nil {
		return nil, err
	}
	sysMemInfo := memory.NewSystemMemoryInfo(log.WithField("component", "memory"))
	budget := memory.Budget(sysMemInfo, explicit, cmp.Or(catalog.Budget, config.DefaultMemoryBudget))
	log.Infof("Model memory budget: %s", units.BytesSize(float64(budget)))
	checkHostMemory(log.WithField("component", "memory"), sysMemInfo, budget, catalog)

	accelerators := gpuinfo.Detect(log.WithField("component", "gpuinfo"))
	if !gpuinfo.HasVendor(accelerators, "nvidia") {
		log.Infoln("No NVIDIA accelerator found, models run on the CPU")
	}

	collector := metrics.New()
	registry, err := models.NewRegistry(
		log.WithField("component", "registry"),
		models.Config{
			Budget:      budget,
			IdleTimeout: cfg.IdleTimeout,
			LoadTimeout: cfg.LoadTimeout,
		},
		backends,
		collector,
	)
	if err != nil {
		return nil, err
	}

	preload, err := cfg.PreloadModels()
	if err != nil {
		return nil, err
	}
	if err := registry.Preload(ctx, preload); err != nil {
		registry.Close()
		return nil, fmt.Errorf("preloading models: %w", err)
	}

	defaults, err := cfg.ModelDefaults()
	if err != nil {
		registry.Close()
		return nil, err
	}
	recorder := metrics.NewGenerationRecorder(log.WithField("component", "recorder"))
	dispatcher := scheduling.NewDispatcher(
		log.WithField("component", "dispatcher"),
		registry,
		collector,
		recorder,
		scheduling.Config{
			InvocationTimeout: cfg.InvocationTimeout,
			DefaultModels:     defaults,
		},
	)
	coordinator := scheduling.NewCoordinator(
		log.WithField("component", "batch"),
		dispatcher,
		collector,
		scheduling.CoordinatorConfig{
			Concurrency: cfg.BatchConcurrency,
			ItemTimeout: cfg.BatchItemTimeout,
		},
	)

	scheduler := scheduling.NewHTTPHandler(
		log.WithField("component", "scheduling"),
		dispatcher,
		coordinator,
		registry,
		accelerators,
		sysMemInfo,
		logs,
	)

	router := routing.NewNormalizedServeMux()
	router.Mount(models.NewHTTPHandler(log.WithField("component", "models"), registry))
	// Generation responses are recorded as the sequence history.
	recorded := recorder.Wrap(scheduler)
	for _, route := range scheduler.GetRoutes() {
		router.Handle(route, recorded)
	}
	router.Handle("GET /records", recorder.GetRecordsByModelHandler())

	// Add metrics endpoint if enabled
	if !cfg.DisableMetrics {
		router.Handle("GET /metrics", metrics.NewHandler(log.WithField("component", "metrics"), collector))
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}

	var handler http.Handler = router
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		handler = middleware.CorsMiddleware(origins, router)
	}
	return &service{handler: handler, registry: registry}, nil
}

// checkHostMemory warns when the budget or a catalog model is larger than
// host RAM. Such models still load if the budget allows it.
func checkHostMemory(log logging.Logger, info memory.SystemMemoryInfo, budget uint64, catalog *models.Catalog) {
	ok, err := info.HaveSufficientMemory(budget)
	if err != nil {
		log.Warnf("Cannot compare the memory budget with host RAM: %v", err)
		return
	}
	total := units.BytesSize(float64(info.GetTotalMemory()))
	if !ok {
		log.Warnf("Memory budget %s exceeds host RAM %s", units.BytesSize(float64(budget)), total)
	}
	for _, m := range catalog.Models {
		if ok, _ := info.HaveSufficientMemory(m.Footprint); !ok {
			log.Warnf("Model %s needs %s, more than host RAM %s", m.Name, units.BytesSize(float64(m.Footprint)), total)
		}
	}
}
