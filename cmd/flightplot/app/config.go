package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultSize   = 800
	defaultRadius = 250.0
)

type ImageFormat string

type Config struct {
	DBPath        string
	FlightID      int64 // 0 selects the most recent flight
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	Size          int     // Plot area edge in pixels
	Radius        float64 // Geofence radius in meters
	MinAltitude   *float64
	MaxAltitude   *float64
	List          bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format: ImagePNG,
		Theme:  ClassicTheme,
		Size:   defaultSize,
		Radius: defaultRadius,
	}
}

func NewConfigFromCLI(args []string, output io.Writer) (*Config, error) {
	c := NewConfig()

	fs := flag.NewFlagSet("flightplot", flag.ContinueOnError)
	fs.SetOutput(output)

	var imageFormat, theme string
	var minAlt, maxAlt float64
	fs.StringVar(&c.DBPath, "db", "", "Path to the flight database")
	fs.Int64Var(&c.FlightID, "flight", 0, "Flight ID, the latest flight when omitted")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Altitude colour theme. [classic, grayscale, thermal, marine]")
	fs.IntVar(&c.Size, "size", defaultSize, "Plot size in pixels")
	fs.Float64Var(&c.Radius, "radius", defaultRadius, "Geofence radius in meters")
	fs.Float64Var(&minAlt, "min-alt", 0, "Skip frames below this altitude")
	fs.Float64Var(&maxAlt, "max-alt", 0, "Skip frames above this altitude")
	fs.BoolVar(&c.List, "list", false, "List recorded flights and exit")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable the scale, legend and information bar")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-alt":
			c.MinAltitude = &minAlt
		case "max-alt":
			c.MaxAltitude = &maxAlt
		}
	})

	c.Format = ImageFormat(strings.ToLower(imageFormat))
	c.Theme = ColorTheme(strings.ToLower(theme))

	if err := c.Validate(); err != nil {
		fs.Usage()
		return nil, err
	}

	if !c.List {
		c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("db path is required")
	case c.List:
		return nil
	case c.FlightID < 0:
		return fmt.Errorf("invalid flight id: %d", c.FlightID)
	case c.OutputFile == "":
		return errors.New("output file is required")
	case c.Size < minSize:
		return fmt.Errorf("size must be at least %d pixels: %d", minSize, c.Size)
	case c.Radius <= 0:
		return fmt.Errorf("radius must be positive: %g", c.Radius)
	case c.MinAltitude != nil && c.MaxAltitude != nil && *c.MinAltitude > *c.MaxAltitude:
		return fmt.Errorf("min altitude %g above max altitude %g", *c.MinAltitude, *c.MaxAltitude)
	}

	if _, ok := validImageFormats[c.Format]; !ok {
		return fmt.Errorf("invalid image format: %s", c.Format)
	}
	if _, ok := validThemes[c.Theme]; !ok {
		return fmt.Errorf("invalid theme: %s", c.Theme)
	}
	return nil
}
