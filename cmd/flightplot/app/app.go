package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/team-204/control/internal/storage"
	"github.com/team-204/control/internal/track"
)

var (
	ErrNoFlights  = errors.New("no flights recorded")
	ErrEmptyTrack = errors.New("no telemetry recorded")
)

// Run lists the flights of the database to out, or plots one of them.
func Run(ctx context.Context, config *Config, out io.Writer, logger *slog.Logger) (err error) {
	if _, err = os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	if config.List {
		return listFlights(ctx, store, out)
	}
	return plotFlight(ctx, store, config, logger)
}

func listFlights(ctx context.Context, store storage.Store, out io.Writer) error {
	flights, err := store.Flights(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tVEHICLE\tDURATION\tOUTCOME")
	for _, f := range flights {
		duration, outcome := "-", "-"
		if f.EndTime != nil {
			duration = f.EndTime.Sub(f.StartTime).Round(time.Second).String()
		}
		if f.Outcome != nil {
			outcome = *f.Outcome
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", f.ID, humanize.Time(f.StartTime), f.Vehicle, duration, outcome)
	}
	return w.Flush()
}

func latestFlight(ctx context.Context, store storage.Store) (*track.Flight, error) {
	flights, err := store.Flights(ctx)
	if err != nil {
		return nil, err
	}
	if len(flights) == 0 {
		return nil, ErrNoFlights
	}

	latest := flights[0]
	for _, f := range flights[1:] {
		if f.ID > latest.ID {
			latest = f
		}
	}
	return latest, nil
}

func readerOptions(config *Config) ([]storage.ReaderOption, []any) {
	if config.MinAltitude == nil && config.MaxAltitude == nil {
		return nil, nil
	}

	minAlt, maxAlt := -math.MaxFloat64, math.MaxFloat64
	var filters []any
	if config.MinAltitude != nil {
		minAlt = *config.MinAltitude
		filters = append(filters, slog.String("minAltitude", formatMeters(minAlt)))
	}
	if config.MaxAltitude != nil {
		maxAlt = *config.MaxAltitude
		filters = append(filters, slog.String("maxAltitude", formatMeters(maxAlt)))
	}
	return []storage.ReaderOption{storage.WithAltitudeRange(minAlt, maxAlt)}, filters
}

func plotFlight(ctx context.Context, store storage.Store, config *Config, logger *slog.Logger) (err error) {
	var f *track.Flight
	if config.FlightID == 0 {
		f, err = latestFlight(ctx, store)
	} else {
		f, err = store.Flight(ctx, config.FlightID)
	}
	if err != nil {
		return fmt.Errorf("loading flight: %w", err)
	}

	opts, filters := readerOptions(config)
	if len(filters) > 0 {
		logger.Info("reader configuration", filters...)
	}

	reader, err := store.ReadTrack(ctx, f.ID, opts...)
	if err != nil {
		return fmt.Errorf("reading track: %w", err)
	}
	defer reader.Close()

	points, err := storage.ReadAll(ctx, reader)
	if err != nil {
		return fmt.Errorf("reading track: %w", err)
	}
	if len(points) == 0 {
		return fmt.Errorf("reading track: flight %d: %w", f.ID, ErrEmptyTrack)
	}

	data := NewTrackData(f, points)
	logger.Info("finished reading track",
		slog.Group("stats",
			slog.Int64("flight", f.ID),
			slog.Int("frames", data.Summary.Points),
			slog.String("duration", data.Summary.Duration.String()),
			slog.String("travelled", formatMeters(data.Summary.Travelled)),
			slog.String("maxRange", formatMeters(data.Summary.MaxRange)),
		))

	renderer, err := NewTrackRenderer(RenderConfig{
		Size:          config.Size,
		Radius:        config.Radius,
		Theme:         config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating track renderer: %w", err)
	}

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering track: %w", err)
	}

	logger.Info("writing image",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", img.Bounds().Dx()),
			slog.Int("height", img.Bounds().Dy()),
		))

	return writeImage(config.OutputFile, config.Format, img)
}

func writeImage(path string, format ImageFormat, img image.Image) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch format {
	case ImageJPEG:
		return jpeg.Encode(out, img, &jpeg.Options{Quality: 95})
	default:
		return png.Encode(out, img)
	}
}
