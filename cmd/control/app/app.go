package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/team-204/control/internal/flight"
	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/groundlink"
	"github.com/team-204/control/internal/observability"
	"github.com/team-204/control/internal/safety"
	"github.com/team-204/control/internal/sensor"
	"github.com/team-204/control/internal/storage"
	"github.com/team-204/control/internal/vehicle"
	"github.com/team-204/control/internal/vehicle/mavlink"
	"github.com/team-204/control/internal/vehicle/sim"
)

const (
	storageFile = "flights.sqlite"
	serviceName = "control"

	shutdownTimeout = 5 * time.Second
)

// Flight outcomes stored by the recorder
const (
	OutcomeCompleted     = "completed"
	OutcomeForcedLanding = "forced-landing"
	OutcomeAborted       = "aborted"
	OutcomeRejected      = "rejected"
	OutcomeFailed        = "failed"
)

// Run connects every collaborator named in config, obtains a flight path and
// flies it. It returns once the vehicle has disarmed, or earlier when the
// flight could not start. Status strings and telemetry go to the ground
// station, the feed and any extra downlinks.
//
// Once the ground station link is open every fatal error is echoed on it
// before Run returns.
func Run(ctx context.Context, config *Config, logger *slog.Logger, extra ...flight.Downlink) error {
	options := []func(s *flight.Sequencer){flight.WithLogger(logger)}
	downlinks := append([]flight.Downlink(nil), extra...)

	var link *groundlink.Link
	if config.GroundStation.Enabled {
		var err error
		gs := config.GroundStation
		if link, err = groundlink.OpenSerial(gs.Port, gs.Baud, gs.ReadTimeout.Std(), groundlink.WithLogger(logger)); err != nil {
			return fmt.Errorf("%w: ground station: %w", ErrConnection, err)
		}
		defer link.Close()
		downlinks = append([]flight.Downlink{link}, downlinks...)
	}

	broadcast := func(level slog.Level, msg string) {
		logger.Log(ctx, level, msg)
		for _, d := range downlinks {
			if err := d.Send(msg); err != nil {
				logger.Warn(fmt.Sprintf("error sending status: %s", err.Error()))
			}
		}
	}
	fail := func(err error) error {
		broadcast(slog.LevelError, fmt.Sprintf("Startup failed: %s", err.Error()))
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     config.Tracing.Enabled,
		ServiceName: serviceName,
		Exporter:    config.Tracing.Exporter,
		Endpoint:    config.Tracing.Endpoint,
		SampleRatio: config.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("initializing tracing: %w", err))
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, logger)

	var collector *observability.FlightCollector
	if config.Metrics.Enabled {
		if collector, err = createCollector(); err != nil {
			return fail(fmt.Errorf("creating metrics collector: %w", err))
		}
		options = append(options, flight.WithMetrics(collector))
	}

	var feed *observability.Feed
	if config.Feed.Enabled {
		feed = observability.NewFeed(observability.WithFeedLogger(logger))
		defer feed.Close()
		downlinks = append(downlinks, feed)
	}

	if collector != nil || feed != nil {
		stop, err := serveHTTP(config.Metrics.Address, collector, feed, logger)
		if err != nil {
			return fail(fmt.Errorf("starting http server: %w", err))
		}
		defer stop()
	}

	for _, d := range downlinks {
		options = append(options, flight.WithDownlink(d))
	}

	v, err := connectVehicle(ctx, &config.Vehicle, logger)
	if err != nil {
		broadcast(slog.LevelError, "Connection to flight controller failed")
		return err
	}
	defer v.Close()
	broadcast(slog.LevelInfo, "Connected to flight controller")

	if config.Sensor.Enabled {
		client, err := connectSensor(ctx, &config.Sensor, logger)
		if err != nil {
			broadcast(slog.LevelError, "Sensor service unavailable")
			return err
		}
		defer client.Close()
		options = append(options, flight.WithSensor(client))
	}

	var recorder *storage.Recorder
	if config.Storage.Enabled {
		store, err := createStorage(&config.Storage)
		if err != nil {
			return fail(fmt.Errorf("creating storage: %w", err))
		}
		defer store.Close()

		flightID, err := store.CreateFlight(ctx, config.Vehicle.Type.String(), config.Vehicle.Address, config)
		if err != nil {
			return fail(fmt.Errorf("creating flight: %w", err))
		}
		recorder = storage.NewRecorder(store, flightID,
			storage.WithLogger(logger),
			storage.WithBatchSize(config.Storage.BatchSize))
		options = append(options, flight.WithRecorder(recorder))

		logger.Info("recording flight", slog.Int64("flight", flightID), slog.String("path", store.Path()))
	}

	seq := flight.New(v, config.FlightConfig(), options...)

	if config.Vehicle.Type == VehicleMavlink && config.Vehicle.BootDelay > 0 {
		logger.Info(fmt.Sprintf("waiting %s for the flight controller to settle", config.Vehicle.BootDelay))
		if err = sleep(ctx, config.Vehicle.BootDelay.Std()); err != nil {
			return fail(fmt.Errorf("waiting for flight controller: %w", err))
		}
	}

	var plan []geo.OffsetPoint
	switch config.Plan.Source {
	case PlanGroundStation:
		if plan, err = seq.AwaitPlan(ctx, link.ReceiveFlightPath); err != nil {
			return fail(err)
		}
	case PlanPlus:
		plan = flight.PlusPattern(config.Plan.Radius, config.Plan.Altitude)
	}

	res, flyErr := seq.Fly(ctx, plan)

	if recorder != nil {
		if err = recorder.Finish(context.WithoutCancel(ctx), res.Origin, outcome(res, flyErr)); err != nil {
			logger.Warn(fmt.Sprintf("error finishing flight record: %s", err.Error()))
		}
	}

	// the sequencer has already echoed why the flight failed
	if flyErr != nil {
		return fmt.Errorf("flying: %w", flyErr)
	}

	logger.Info("flight finished",
		slog.String("outcome", outcome(res, nil)),
		slog.String("reached", fmt.Sprintf("%d of %d waypoints", res.Reached, len(res.Waypoints))),
		slog.String("origin", res.Origin.String()),
		slog.Int("legs", len(plan)))
	return nil
}

func connectVehicle(ctx context.Context, config *VehicleConfig, logger *slog.Logger) (vehicle.Vehicle, error) {
	switch config.Type {
	case VehicleSim:
		home := geo.Position{Latitude: config.Sim.Latitude, Longitude: config.Sim.Longitude}
		return sim.New(home,
			sim.WithLogger(logger),
			sim.WithBootDelay(config.BootDelay.Std()),
			sim.WithRates(config.Sim.Speed, config.Sim.ClimbRate, config.Sim.DescentRate)), nil

	case VehicleMavlink:
		logger.Info("connecting to flight controller", slog.String("address", config.Address))
		v, err := mavlink.Connect(ctx, config.Address, config.Baud,
			mavlink.WithLogger(logger),
			mavlink.WithReadyTimeout(config.ReadyTimeout.Std()))
		if err != nil {
			return nil, err
		}
		return v, nil

	default:
		return nil, fmt.Errorf("connecting vehicle: unknown type '%s'", config.Type)
	}
}

// connectSensor dials the sensor service and probes it once. A service that
// does not answer the probe is treated as unreachable.
func connectSensor(ctx context.Context, config *SensorConfig, logger *slog.Logger) (*sensor.Client, error) {
	client, err := sensor.Dial(ctx, config.Endpoint,
		sensor.WithLogger(logger),
		sensor.WithTimeout(config.Timeout.Std()))
	if err != nil {
		return nil, fmt.Errorf("%w: sensor service: %w", ErrConnection, err)
	}

	reading, err := client.Read(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: sensor service: %w", ErrConnection, err)
	}
	logger.Info("sensor service ready",
		slog.String("temperature", reading.Temperature),
		slog.String("altitude", reading.Altitude))

	return client, nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage directory '%s': %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return storage.NewSqliteStore(filepath.Join(dir, storageFile)), nil
}

func createCollector() (*observability.FlightCollector, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return observability.NewFlightCollector(reg)
}

// serveHTTP exposes /metrics and /feed on address. The returned function
// shuts the server down.
func serveHTTP(address string, collector *observability.FlightCollector, feed *observability.Feed, logger *slog.Logger) (func(), error) {
	mux := http.NewServeMux()
	if collector != nil {
		mux.Handle("/metrics", collector.Handler())
	}
	if feed != nil {
		mux.Handle("/feed", feed)
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("http server: %s", err.Error()))
		}
	}()
	logger.Info("http server listening", slog.String("address", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(fmt.Sprintf("http server shutdown: %s", err.Error()))
		}
	}, nil
}

func outcome(res flight.Result, err error) string {
	var rejection *safety.RejectionError
	switch {
	case errors.As(err, &rejection):
		return OutcomeRejected
	case err != nil:
		return OutcomeFailed
	case res.Breach != nil:
		return OutcomeForcedLanding
	case res.Aborted:
		return OutcomeAborted
	default:
		return OutcomeCompleted
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
