package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/team-204/control/internal/gps"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))

	var (
		port    string
		baud    int
		count   int
		verbose bool
	)
	flag.StringVar(&port, "port", "/dev/ttyACM0", "Serial port of the GPS receiver")
	flag.IntVar(&baud, "baud", 9600, "Baud rate of the GPS receiver")
	flag.IntVar(&count, "n", 10, "Number of readings to print")
	flag.BoolVar(&verbose, "v", false, "Log skipped sentences")
	flag.Parse()

	if verbose {
		logLevel.Set(slog.LevelDebug)
	}

	r, err := gps.OpenSerial(port, baud, gps.WithLogger(logger))
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	defer r.Close()

	failed := 0
	for i := 0; i < count; i++ {
		pos, err := r.Read()
		if err != nil {
			logger.Warn(err.Error(), slog.Int("reading", i+1))
			failed++
			continue
		}
		fixTime := time.Duration(pos.Timestamp * float64(time.Second))
		fmt.Printf("%.7f, %.7f  %s m  %s UTC\n", pos.Latitude, pos.Longitude, humanize.FtoaWithDigits(pos.Altitude, 1), fixTime)
	}

	if failed == count {
		logger.Error(fmt.Sprintf("no readings from %s", port))
		_ = r.Close()
		os.Exit(1)
	}
}
