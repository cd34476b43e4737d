package mavlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/team-204/control/internal/geo"
	"github.com/team-204/control/internal/vehicle"
)

const (
	defaultReadyTimeout = 30 * time.Second
	defaultSystemID     = 255

	// position, velocity, acceleration, yaw and yaw rate ignored
	positionOnlyTypeMask = 0x0FF8
)

// WithLogger sets the logger for the vehicle
func WithLogger(logger *slog.Logger) func(v *Vehicle) {
	return func(v *Vehicle) {
		v.logger = logger.With(slog.String("component", "mavlink"))
	}
}

// WithReadyTimeout bounds how long Connect waits for the first heartbeat and
// position.
func WithReadyTimeout(timeout time.Duration) func(v *Vehicle) {
	return func(v *Vehicle) {
		if timeout > 0 {
			v.readyTimeout = timeout
		}
	}
}

// WithSystemID sets the MAVLink system id the supervisor sends as.
func WithSystemID(id byte) func(v *Vehicle) {
	return func(v *Vehicle) {
		v.systemID = id
	}
}

type state struct {
	heartbeat    bool
	mode         string
	armed        bool
	systemStatus common.MAV_STATE

	fix         common.GPS_FIX_TYPE
	hasPosition bool
	position    geo.Position
}

// Vehicle is an ArduCopter flight controller reached over MAVLink.
type Vehicle struct {
	node *gomavlib.Node

	systemID     byte
	readyTimeout time.Duration

	mu              sync.RWMutex
	state           state
	targetSystem    uint8
	targetComponent uint8

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

func newVehicle(options ...func(v *Vehicle)) *Vehicle {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	v := Vehicle{
		systemID:     defaultSystemID,
		readyTimeout: defaultReadyTimeout,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger,
	}

	for _, option := range options {
		option(&v)
	}

	return &v
}

// Connect opens a MAVLink endpoint and waits until the flight controller has
// reported its state and position. The address is a serial device such as
// "/dev/ttyAMA0" (read at baud), or "udp:host:port", "udpserver:host:port",
// "tcp:host:port".
func Connect(ctx context.Context, address string, baud int, options ...func(v *Vehicle)) (*Vehicle, error) {
	v := newVehicle(options...)

	endpoint, err := endpointFor(address, baud)
	if err != nil {
		return nil, err
	}

	v.node, err = gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:           []gomavlib.EndpointConf{endpoint},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         v.systemID,
		StreamRequestEnable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", vehicle.ErrConnection, address, err)
	}

	go v.run()

	timer := time.NewTimer(v.readyTimeout)
	defer timer.Stop()

	select {
	case <-v.ready:
		v.logger.Info("flight controller ready", slog.String("address", address))
		return v, nil

	case <-timer.C:
		_ = v.Close()
		return nil, fmt.Errorf("%w: %s: no heartbeat and position within %s", vehicle.ErrConnection, address, v.readyTimeout)

	case <-ctx.Done():
		_ = v.Close()
		return nil, fmt.Errorf("%w: %s: %w", vehicle.ErrConnection, address, ctx.Err())
	}
}

func endpointFor(address string, baud int) (gomavlib.EndpointConf, error) {
	scheme, rest, found := strings.Cut(address, ":")
	if found {
		switch scheme {
		case "udp":
			return gomavlib.EndpointUDPClient{Address: rest}, nil
		case "udpserver":
			return gomavlib.EndpointUDPServer{Address: rest}, nil
		case "tcp":
			return gomavlib.EndpointTCPClient{Address: rest}, nil
		}
	}

	if address == "" {
		return nil, errors.New("empty vehicle address")
	}
	if baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate for %s: %d", address, baud)
	}
	return gomavlib.EndpointSerial{Device: address, Baud: baud}, nil
}

func (v *Vehicle) run() {
	for evt := range v.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventChannelOpen:
			v.logger.Debug("channel open", slog.String("channel", e.Channel.String()))

		case *gomavlib.EventChannelClose:
			v.logger.Warn("channel closed", slog.String("channel", e.Channel.String()))

		case *gomavlib.EventParseError:
			v.logger.Debug(fmt.Sprintf("parse error: %s", e.Error.Error()))

		case *gomavlib.EventFrame:
			v.handle(e.SystemID(), e.ComponentID(), e.Message())
		}
	}
}

// handle folds one inbound message into the vehicle state.
func (v *Vehicle) handle(systemID, componentID uint8, msg message.Message) {
	v.mu.Lock()
	prev := v.state

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if m.Autopilot == common.MAV_AUTOPILOT_INVALID {
			// another ground station
			v.mu.Unlock()
			return
		}

		v.targetSystem, v.targetComponent = systemID, componentID
		v.state.heartbeat = true
		v.state.mode = modeName(m.CustomMode)
		v.state.armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		v.state.systemStatus = m.SystemStatus

	case *common.MessageGlobalPositionInt:
		v.state.hasPosition = true
		v.state.position = geo.Position{
			Latitude:  float64(m.Lat) / 1e7,
			Longitude: float64(m.Lon) / 1e7,
			Altitude:  float64(m.RelativeAlt) / 1000,
			Timestamp: float64(m.TimeBootMs) / 1000,
		}

	case *common.MessageGpsRawInt:
		v.state.fix = m.FixType
	}

	cur := v.state
	v.mu.Unlock()

	if prev.mode != cur.mode && prev.mode != "" {
		v.logger.Info("mode changed", slog.String("from", prev.mode), slog.String("to", cur.mode))
	}
	if prev.armed != cur.armed && prev.heartbeat {
		v.logger.Info("armed state changed", slog.Bool("armed", cur.armed))
	}

	if cur.heartbeat && cur.hasPosition {
		v.readyOnce.Do(func() { close(v.ready) })
	}
}

func (v *Vehicle) Mode() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.mode
}

func (v *Vehicle) Armed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.armed
}

// Armable reports a 3D GPS fix and a flight controller past its boot checks.
func (v *Vehicle) Armable() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := v.state
	if !s.heartbeat || !s.hasPosition {
		return false
	}
	if s.systemStatus != common.MAV_STATE_STANDBY && s.systemStatus != common.MAV_STATE_ACTIVE {
		return false
	}
	return s.fix >= common.GPS_FIX_TYPE_3D_FIX
}

func (v *Vehicle) Position() geo.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.position
}

func (v *Vehicle) SetMode(mode string) error {
	custom, ok := customMode(mode)
	if !ok {
		return fmt.Errorf("%w: %s", vehicle.ErrUnknownMode, mode)
	}

	return v.command(common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		float32(custom),
	})
}

func (v *Vehicle) SetArmed(armed bool) error {
	var p1 float32
	if armed {
		p1 = 1
	}
	return v.command(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{p1})
}

func (v *Vehicle) Takeoff(altitude float64) error {
	return v.command(common.MAV_CMD_NAV_TAKEOFF, [7]float32{6: float32(altitude)})
}

func (v *Vehicle) Goto(target geo.Position) error {
	ts, tc, err := v.target()
	if err != nil {
		return err
	}

	return v.write(&common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    ts,
		TargetComponent: tc,
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask:        common.POSITION_TARGET_TYPEMASK(positionOnlyTypeMask),
		LatInt:          int32(target.Latitude * 1e7),
		LonInt:          int32(target.Longitude * 1e7),
		Alt:             float32(target.Altitude),
	})
}

// Close shuts the MAVLink node down. Further commands fail with
// vehicle.ErrNotConnected.
func (v *Vehicle) Close() error {
	v.closeOnce.Do(func() {
		close(v.done)
		if v.node != nil {
			v.node.Close()
		}
	})
	return nil
}

func (v *Vehicle) target() (uint8, uint8, error) {
	select {
	case <-v.done:
		return 0, 0, vehicle.ErrNotConnected
	default:
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.state.heartbeat {
		return 0, 0, vehicle.ErrNotConnected
	}
	return v.targetSystem, v.targetComponent, nil
}

func (v *Vehicle) command(cmd common.MAV_CMD, params [7]float32) error {
	ts, tc, err := v.target()
	if err != nil {
		return err
	}

	return v.write(&common.MessageCommandLong{
		TargetSystem:    ts,
		TargetComponent: tc,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	})
}

func (v *Vehicle) write(msg message.Message) error {
	if v.node == nil {
		return vehicle.ErrNotConnected
	}
	if err := v.node.WriteMessageAll(msg); err != nil {
		return fmt.Errorf("writing %T: %w", msg, err)
	}
	return nil
}
