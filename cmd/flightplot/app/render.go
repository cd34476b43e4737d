package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/team-204/control/internal/track"
)

const (
	dpi      = 96.0
	fontSize = 10.0
	minSize  = 200

	// share of the plot kept clear around the furthest feature
	extentMargin = 1.1
	// geofence dash length in pixels
	dashLength = 6

	legendWidth  = 16
	legendHeight = 160

	defaultTopBorder    = 40
	defaultLeftBorder   = 20
	defaultBottomBorder = 50
	defaultRightBorder  = 110
	bareBorder          = 10

	defaultDatetimeFormat = time.DateTime
)

var (
	axisColor     = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	geofenceColor = color.RGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff}
	homeColor     = color.RGBA{A: 0xff}
	startColor    = color.RGBA{G: 0xa0, A: 0xff}
)

// BorderConfig is the white space around the plot area
type BorderConfig struct {
	Top    int // title
	Left   int
	Bottom int // information bar
	Right  int // altitude legend
}

// RenderConfig holds the options of a TrackRenderer
type RenderConfig struct {
	Size           int     // Plot area edge in pixels
	Radius         float64 // Geofence radius in meters
	Theme          ColorTheme
	Location       *time.Location
	DatetimeFormat string
	FontSize       float64
	NoAnnotations  bool
	Borders        BorderConfig
}

// TrackData is everything known about one recorded flight.
type TrackData struct {
	Flight  *track.Flight
	Points  []track.Point
	Summary track.Summary
}

func NewTrackData(flight *track.Flight, points []track.Point) *TrackData {
	return &TrackData{
		Flight:  flight,
		Points:  points,
		Summary: track.Summarize(points),
	}
}

// TrackRenderer draws a top-down view of a flight: the geofence, the home
// position and the track coloured by altitude.
type TrackRenderer struct {
	config RenderConfig
}

func NewTrackRenderer(config RenderConfig) (*TrackRenderer, error) {
	if config.Size < minSize {
		return nil, fmt.Errorf("plot size must be at least %d pixels: %d", minSize, config.Size)
	}
	if config.Radius <= 0 {
		return nil, fmt.Errorf("geofence radius must be positive: %g", config.Radius)
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}

	b := &config.Borders
	if config.NoAnnotations {
		*b = BorderConfig{Top: bareBorder, Left: bareBorder, Bottom: bareBorder, Right: bareBorder}
	} else {
		if b.Top == 0 {
			b.Top = defaultTopBorder
		}
		if b.Left == 0 {
			b.Left = defaultLeftBorder
		}
		if b.Bottom == 0 {
			b.Bottom = defaultBottomBorder
		}
		if b.Right == 0 {
			b.Right = defaultRightBorder
		}
	}

	return &TrackRenderer{config: config}, nil
}

// plotArea maps meters relative to home onto pixels. North is up.
type plotArea struct {
	rect           image.Rectangle
	center         image.Point
	metersPerPixel float64
}

func (p plotArea) project(east, north float64) image.Point {
	return image.Point{
		X: p.center.X + int(math.Round(east/p.metersPerPixel)),
		Y: p.center.Y - int(math.Round(north/p.metersPerPixel)),
	}
}

func (r *TrackRenderer) area(data *TrackData) plotArea {
	b := r.config.Borders
	rect := image.Rect(b.Left, b.Top, b.Left+r.config.Size, b.Top+r.config.Size)

	extent := math.Max(r.config.Radius, data.Summary.MaxRange) * extentMargin
	return plotArea{
		rect:           rect,
		center:         image.Point{X: rect.Min.X + r.config.Size/2, Y: rect.Min.Y + r.config.Size/2},
		metersPerPixel: 2 * extent / float64(r.config.Size),
	}
}

func (r *TrackRenderer) Render(data *TrackData) (*image.RGBA, error) {
	b := r.config.Borders
	img := image.NewRGBA(image.Rect(0, 0,
		b.Left+r.config.Size+b.Right,
		b.Top+r.config.Size+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := r.area(data)
	colors := NewColorMapper(r.config.Theme, AltitudeBounds{
		Min: data.Summary.MinAltitude,
		Max: data.Summary.MaxAltitude,
	})

	drawAxes(img, area)
	drawGeofence(img, area, r.config.Radius)
	drawTrack(img, area, data.Points, colors)
	drawHome(img, area)

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(r.config)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	if err = ann.annotate(img, area, data, colors); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

func drawAxes(img *image.RGBA, area plotArea) {
	for x := area.rect.Min.X; x < area.rect.Max.X; x++ {
		img.Set(x, area.center.Y, axisColor)
	}
	for y := area.rect.Min.Y; y < area.rect.Max.Y; y++ {
		img.Set(area.center.X, y, axisColor)
	}
}

// drawGeofence draws a dashed circle of radius meters around home.
func drawGeofence(img *image.RGBA, area plotArea, radius float64) {
	rPx := radius / area.metersPerPixel
	step := 1 / math.Max(rPx, 1)

	for a := 0.0; a < 2*math.Pi; a += step / 2 {
		if int(a*rPx/dashLength)%2 == 1 {
			continue
		}
		x := area.center.X + int(math.Round(rPx*math.Cos(a)))
		y := area.center.Y - int(math.Round(rPx*math.Sin(a)))
		img.Set(x, y, geofenceColor)
	}
}

func drawTrack(img *image.RGBA, area plotArea, points []track.Point, colors *ColorMapper) {
	if len(points) == 0 {
		return
	}

	prev := area.project(points[0].Frame.East, points[0].Frame.North)
	for _, p := range points[1:] {
		cur := area.project(p.Frame.East, p.Frame.North)
		drawLine(img, prev, cur, colors.Color(p.Frame.Up))
		prev = cur
	}

	drawMarker(img, area.project(points[0].Frame.East, points[0].Frame.North), 3, startColor)
}

func drawHome(img *image.RGBA, area plotArea) {
	drawMarker(img, area.center, 2, homeColor)
}

func drawMarker(img *image.RGBA, at image.Point, half int, c color.Color) {
	draw.Draw(img, image.Rect(at.X-half, at.Y-half, at.X+half+1, at.Y+half+1), image.NewUniform(c), image.Point{}, draw.Src)
}

// drawLine is Bresenham's line, two pixels wide.
func drawLine(img *image.RGBA, from, to image.Point, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := sign(to.X-from.X), sign(to.Y-from.Y)
	e := dx + dy

	x, y := from.X, from.Y
	for {
		img.Set(x, y, c)
		img.Set(x+1, y, c)
		img.Set(x, y+1, c)

		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, area plotArea, data *TrackData, colors *ColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing title", func() error { return a.drawTitle(area, data) }},
		{"drawing scale bar", func() error { return a.drawScaleBar(img, area) }},
		{"drawing legend", func() error { return a.drawLegend(img, area, colors) }},
		{"drawing info bar", func() error { return a.drawInfoBar(area, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	m := a.fontFace.Metrics()
	return (m.Ascent + m.Descent).Round()
}

func (a *annotator) drawTitle(area plotArea, data *TrackData) error {
	f := data.Flight

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Flight #%d (%s)", f.ID, f.Vehicle))
	sb.WriteString(", ")
	sb.WriteString(f.StartTime.In(a.config.Location).Format(a.config.DatetimeFormat))
	if f.Outcome != nil {
		sb.WriteString(", ")
		sb.WriteString(*f.Outcome)
	}

	y := area.rect.Min.Y - (a.config.Borders.Top-a.fontHeight())/2
	_, err := a.context.DrawString(sb.String(), freetype.Pt(area.rect.Min.X, y))
	return err
}

// drawScaleBar puts a bar of a round length in the bottom left corner.
func (a *annotator) drawScaleBar(img *image.RGBA, area plotArea) error {
	meters := niceDistance(area.metersPerPixel * float64(area.rect.Dx()) / 5)
	length := int(math.Round(meters / area.metersPerPixel))

	x0 := area.rect.Min.X + 10
	y := area.rect.Max.Y - 10
	for x := x0; x <= x0+length; x++ {
		img.Set(x, y, color.Black)
		img.Set(x, y-1, color.Black)
	}
	for i := 0; i < 6; i++ {
		img.Set(x0, y-i, color.Black)
		img.Set(x0+length, y-i, color.Black)
	}

	label := formatMeters(meters)
	_, err := a.context.DrawString(label, freetype.Pt(x0, y-8))
	return err
}

func (a *annotator) drawLegend(img *image.RGBA, area plotArea, colors *ColorMapper) error {
	x0 := area.rect.Max.X + 15
	y0 := area.rect.Min.Y
	bounds := colors.Bounds()

	// top of the strip is the highest altitude
	for y := 0; y < legendHeight; y++ {
		alt := bounds.Max - (bounds.Max-bounds.Min)*float64(y)/float64(legendHeight-1)
		c := colors.Color(alt)
		for x := 0; x < legendWidth; x++ {
			img.Set(x0+x, y0+y, c)
		}
	}

	labels := []struct {
		text string
		x, y int
	}{
		{formatMeters(bounds.Max), x0 + legendWidth + 5, y0 + a.fontHeight()/2},
		{formatMeters(bounds.Min), x0 + legendWidth + 5, y0 + legendHeight},
		{"altitude", x0, y0 + legendHeight + a.fontHeight() + 4},
	}
	for _, l := range labels {
		if _, err := a.context.DrawString(l.text, freetype.Pt(l.x, l.y)); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(area plotArea, data *TrackData) error {
	s := data.Summary

	lines := []string{
		fmt.Sprintf("Frames: %s; Duration: %s; Travelled: %s; Max range: %s; Geofence: %s",
			humanize.Comma(int64(s.Points)),
			s.Duration.Round(time.Second),
			formatMeters(s.Travelled),
			formatMeters(s.MaxRange),
			formatMeters(a.config.Radius)),
		fmt.Sprintf("Altitude: %s - %s; Temperature: %s; 1px = %s",
			formatMeters(s.MinAltitude),
			formatMeters(s.MaxAltitude),
			formatTemperatureRange(s.MinTemperature, s.MaxTemperature),
			formatMeters(area.metersPerPixel)),
	}

	pt := freetype.Pt(area.rect.Min.X, area.rect.Max.Y+a.fontHeight()+6)
	for _, line := range lines {
		if _, err := a.context.DrawString(line, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(a.config.FontSize * 1.5)
	}
	return nil
}

// niceDistance rounds meters down to 1, 2 or 5 times a power of ten.
func niceDistance(meters float64) float64 {
	if meters <= 0 {
		return 1
	}

	magnitude := math.Pow(10, math.Floor(math.Log10(meters)))
	for _, m := range []float64{5, 2, 1} {
		if m*magnitude <= meters {
			return m * magnitude
		}
	}
	return magnitude
}

func formatMeters(m float64) string {
	if math.Abs(m) >= 1000 {
		return humanize.FtoaWithDigits(m/1000, 2) + " km"
	}
	return humanize.FtoaWithDigits(m, 2) + " m"
}

func formatTemperatureRange(low, high *float64) string {
	if low == nil || high == nil {
		return "n/a"
	}
	return fmt.Sprintf("%s - %s °C", humanize.FtoaWithDigits(*low, 1), humanize.FtoaWithDigits(*high, 1))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
