package joystick

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Button and axis numbers as reported by the DualShock 4 driver:
//
// Buttons
//
//    Cross     = 0
//    Circle    = 1
//    Triangle  = 2
//    Square    = 3
//    L1        = 4
//    R1        = 5
//    L2        = 6 (also an axis)
//    R2        = 7 (also an axis)
//    Share     = 8
//    Options   = 9
//    PS        = 10
//    L stick   = 11
//    R stick   = 12
//
// Axes
//
//    D-pad   u/d = 7 (up = -32767; down = +32767)
//            l/r = 6 (left = -32767; right = +32767)

type EventType uint8

const (
	EventTypeButton = 1
	EventTypeAxis   = 2

	// Set on the synthetic events the driver sends when the device is
	// opened.
	eventTypeInit = 0x80
)

const (
	ButtonCross    = 0
	ButtonCircle   = 1
	ButtonTriangle = 2
	ButtonSquare   = 3
	ButtonL1       = 4
	ButtonR1       = 5
	ButtonL2       = 6
	ButtonR2       = 7
	ButtonShare    = 8
	ButtonOptions  = 9
	ButtonPS       = 10
	ButtonLStick   = 11
	ButtonRStick   = 12

	AxisDPadX = 6
	AxisDPadY = 7
)

func (e EventType) String() string {
	switch e {
	case EventTypeAxis:
		return "axis"
	case EventTypeButton:
		return "button"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

type Joystick struct {
	device io.ReadCloser

	deviceEpoch    uint32
	wallclockEpoch time.Time
}

type rawEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

type Event struct {
	Time   time.Time
	Value  int16
	Type   EventType
	Init   bool
	Number uint8
}

func (e *Event) String() string {
	return fmt.Sprintf("%v(%v)=%v", e.Type, e.Number, e.Value)
}

func NewJoystick(device string) (*Joystick, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Wrap(err, "opening joystick")
	}
	return newFromReader(f), nil
}

func newFromReader(r io.ReadCloser) *Joystick {
	return &Joystick{device: r}
}

func (j *Joystick) ReadEvent() (*Event, error) {
	var rawEvent rawEvent
	err := binary.Read(j.device, binary.LittleEndian, &rawEvent)
	if err != nil {
		return nil, err
	}

	if j.deviceEpoch == 0 {
		j.deviceEpoch = rawEvent.Time
		j.wallclockEpoch = time.Now()
	}

	return &Event{
		Time:   j.wallclockEpoch.Add(time.Duration(rawEvent.Time-j.deviceEpoch) * time.Millisecond),
		Value:  rawEvent.Value,
		Type:   EventType(rawEvent.Type &^ eventTypeInit),
		Init:   rawEvent.Type&eventTypeInit != 0,
		Number: rawEvent.Number,
	}, nil
}

func (j *Joystick) Close() error {
	return j.device.Close()
}

type ActionKind int

const (
	// Command is a one-shot shooter command such as "intake".
	Command ActionKind = iota
	// Pose moves the pivot to a named pose.
	Pose
	// Sequence starts a named multi-step sequence.
	Sequence
	// Trim nudges the selected tunable by Steps.
	Trim
	// SelectTunable moves the tunable selection by Steps.
	SelectTunable
)

type Action struct {
	Kind  ActionKind
	Name  string
	Steps int
}

func (a Action) String() string {
	switch a.Kind {
	case Trim, SelectTunable:
		return fmt.Sprintf("%v(%+d)", a.kindName(), a.Steps)
	default:
		return fmt.Sprintf("%v(%s)", a.kindName(), a.Name)
	}
}

func (a Action) kindName() string {
	switch a.Kind {
	case Command:
		return "command"
	case Pose:
		return "pose"
	case Sequence:
		return "sequence"
	case Trim:
		return "trim"
	case SelectTunable:
		return "select"
	default:
		return fmt.Sprintf("unknown(%d)", int(a.Kind))
	}
}

// Bindings map button presses and D-pad directions to actions.
type Bindings struct {
	Buttons   map[uint8]Action
	DPadUp    Action
	DPadDown  Action
	DPadLeft  Action
	DPadRight Action
}

func DefaultBindings() Bindings {
	return Bindings{
		Buttons: map[uint8]Action{
			ButtonCross:    {Kind: Sequence, Name: "intake-until-acquired"},
			ButtonCircle:   {Kind: Command, Name: "stop"},
			ButtonTriangle: {Kind: Pose, Name: "hold"},
			ButtonSquare:   {Kind: Sequence, Name: "outtake"},
			ButtonL1:       {Kind: Pose, Name: "intake"},
			ButtonR1:       {Kind: Command, Name: "kick"},
			ButtonL2:       {Kind: Pose, Name: "retract"},
			ButtonR2:       {Kind: Pose, Name: "shoot"},
			ButtonShare:    {Kind: Command, Name: "toggle-autoaim"},
			ButtonOptions:  {Kind: Command, Name: "toggle-enable"},
			ButtonPS:       {Kind: Command, Name: "disable"},
		},
		DPadUp:    Action{Kind: Trim, Steps: 1},
		DPadDown:  Action{Kind: Trim, Steps: -1},
		DPadLeft:  Action{Kind: SelectTunable, Steps: -1},
		DPadRight: Action{Kind: SelectTunable, Steps: 1},
	}
}

// Map returns the action for an event, if any. Only presses fire; releases,
// stick movement and the driver's initial state events are ignored.
func (b Bindings) Map(e *Event) (Action, bool) {
	if e.Init {
		return Action{}, false
	}
	switch e.Type {
	case EventTypeButton:
		if e.Value != 1 {
			return Action{}, false
		}
		a, ok := b.Buttons[e.Number]
		return a, ok
	case EventTypeAxis:
		switch {
		case e.Number == AxisDPadY && e.Value < 0:
			return b.DPadUp, true
		case e.Number == AxisDPadY && e.Value > 0:
			return b.DPadDown, true
		case e.Number == AxisDPadX && e.Value < 0:
			return b.DPadLeft, true
		case e.Number == AxisDPadX && e.Value > 0:
			return b.DPadRight, true
		}
	}
	return Action{}, false
}

type EventSource interface {
	ReadEvent() (*Event, error)
	Close() error
}

// Loop reads events until the source fails or ctx is done, calling handle
// for every bound action. A failing handler is logged and the loop carries
// on.
func Loop(ctx context.Context, wg *sync.WaitGroup, src EventSource, b Bindings,
	handle func(context.Context, Action) error, logger *zap.SugaredLogger) {
	defer wg.Done()

	go func() {
		<-ctx.Done()
		_ = src.Close()
	}()

	for {
		e, err := src.ReadEvent()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warnw("Joystick: read failed, stopping", "error", err)
			}
			return
		}
		a, ok := b.Map(e)
		if !ok {
			continue
		}
		logger.Infow("Joystick: action", "action", a)
		if err := handle(ctx, a); err != nil {
			logger.Warnw("Joystick: action failed", "action", a, "error", err)
		}
	}
}
