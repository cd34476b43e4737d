package app

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/team-204/control/internal/telemetry"
	"github.com/team-204/control/internal/track"
)

func testPoints() []track.Point {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	frames := []telemetry.Frame{
		{East: 0, North: 0, Up: 5, FlightTime: 0},
		{East: 0, North: 20, Up: 8, FlightTime: 5},
		{East: 20, North: 20, Up: 10, FlightTime: 10},
		{East: 20, North: 0, Up: 12, FlightTime: 15},
		{East: 0, North: 0, Up: 6, FlightTime: 20},
	}

	points := make([]track.Point, len(frames))
	for i, f := range frames {
		points[i] = track.Point{Timestamp: start.Add(time.Duration(f.FlightTime) * time.Second), Frame: f}
	}
	return points
}

func testData() *TrackData {
	outcome := "completed"
	return NewTrackData(&track.Flight{
		ID:        7,
		StartTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Vehicle:   "sim",
		Outcome:   &outcome,
	}, testPoints())
}

func sameColor(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func TestNewTrackRenderer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config RenderConfig
	}{
		{"small", RenderConfig{Size: minSize - 1, Radius: 10}},
		{"no radius", RenderConfig{Size: minSize}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTrackRenderer(tt.config); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestTrackRenderer_Render(t *testing.T) {
	tests := []struct {
		name          string
		noAnnotations bool
		wantWidth     int
		wantHeight    int
	}{
		{
			name:       "annotated",
			wantWidth:  defaultLeftBorder + 400 + defaultRightBorder,
			wantHeight: defaultTopBorder + 400 + defaultBottomBorder,
		},
		{
			name:          "bare",
			noAnnotations: true,
			wantWidth:     2*bareBorder + 400,
			wantHeight:    2*bareBorder + 400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewTrackRenderer(RenderConfig{
				Size:          400,
				Radius:        50,
				Theme:         ClassicTheme,
				Location:      time.UTC,
				NoAnnotations: tt.noAnnotations,
			})
			if err != nil {
				t.Fatal(err)
			}

			data := testData()
			img, err := r.Render(data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := img.Bounds().Dx(); got != tt.wantWidth {
				t.Errorf("expected width %d, got %d", tt.wantWidth, got)
			}
			if got := img.Bounds().Dy(); got != tt.wantHeight {
				t.Errorf("expected height %d, got %d", tt.wantHeight, got)
			}

			area := r.area(data)
			if got := img.At(area.center.X, area.center.Y); !sameColor(got, homeColor) {
				t.Errorf("expected home marker at the center, got %v", got)
			}

			// the dashed geofence always starts with a dash due east of home
			east := area.project(50, 0)
			if got := img.At(east.X, east.Y); !sameColor(got, geofenceColor) {
				t.Errorf("expected geofence at %v, got %v", east, got)
			}

			// halfway along the northern leg, coloured by the altitude it ends at
			leg := area.project(0, 10)
			want := NewColorMapper(ClassicTheme, AltitudeBounds{Min: 5, Max: 12}).Color(8)
			if got := img.At(leg.X, leg.Y); !sameColor(got, want) {
				t.Errorf("expected track colour %v at %v, got %v", want, leg, got)
			}
		})
	}
}

func TestTrackRenderer_EmptyTrack(t *testing.T) {
	r, err := NewTrackRenderer(RenderConfig{Size: minSize, Radius: 10, Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}

	data := NewTrackData(&track.Flight{ID: 1}, nil)
	if _, err = r.Render(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlotArea_Project(t *testing.T) {
	area := plotArea{
		rect:           image.Rect(0, 0, 200, 200),
		center:         image.Point{X: 100, Y: 100},
		metersPerPixel: 0.5,
	}

	tests := []struct {
		east, north float64
		want        image.Point
	}{
		{0, 0, image.Point{X: 100, Y: 100}},
		{10, 0, image.Point{X: 120, Y: 100}},
		{0, 10, image.Point{X: 100, Y: 80}},
		{-10, -25, image.Point{X: 80, Y: 150}},
	}

	for _, tt := range tests {
		if got := area.project(tt.east, tt.north); got != tt.want {
			t.Errorf("project(%g, %g): expected %v, got %v", tt.east, tt.north, tt.want, got)
		}
	}
}

func TestPlotArea_FitsTrackBeyondGeofence(t *testing.T) {
	r, err := NewTrackRenderer(RenderConfig{Size: 400, Radius: 10})
	if err != nil {
		t.Fatal(err)
	}

	area := r.area(testData())
	corner := area.project(20, 20)
	if !corner.In(area.rect) {
		t.Errorf("expected %v inside the plot %v", corner, area.rect)
	}
}

func TestNiceDistance(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1},
		{0.7, 0.5},
		{1, 1},
		{3.9, 2},
		{7, 5},
		{55, 50},
		{180, 100},
		{2500, 2000},
	}

	for _, tt := range tests {
		if got := niceDistance(tt.in); got != tt.want {
			t.Errorf("niceDistance(%g): expected %g, got %g", tt.in, tt.want, got)
		}
	}
}

func TestColorMapper(t *testing.T) {
	cm := NewColorMapper(ThermalTheme, AltitudeBounds{Min: 0, Max: 63})

	if !sameColor(cm.Color(-5), cm.Color(0)) {
		t.Error("expected altitudes below the bounds to clamp")
	}
	if !sameColor(cm.Color(100), cm.Color(63)) {
		t.Error("expected altitudes above the bounds to clamp")
	}
	if sameColor(cm.Color(0), cm.Color(63)) {
		t.Error("expected the ends of the scale to differ")
	}

	level := NewColorMapper(ClassicTheme, AltitudeBounds{Min: 10, Max: 10})
	if !sameColor(level.Color(10), level.Color(3)) {
		t.Error("expected a single colour for a level flight")
	}
}
