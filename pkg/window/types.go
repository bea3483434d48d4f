// Package window exposes per-window handles on the frontend and the Window
// module that applies their commands on the backend.
package window

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Kind says whether a size or position is in logical units, which the
// backend scales by the window's DPI factor, or in physical pixels.
type Kind string

const (
	Logical  Kind = "logical"
	Physical Kind = "physical"
)

// ErrInvalidKind is returned for a size or position whose tag is neither
// logical nor physical.
var ErrInvalidKind = errors.New("window: type must be logical or physical")

// ErrInvalidDimension is returned for negative or non-finite values.
var ErrInvalidDimension = errors.New("window: dimensions must be finite and non-negative")

func (k Kind) valid() bool {
	return k == Logical || k == Physical
}

// PhysicalSize is a size in device pixels.
type PhysicalSize struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// PhysicalPosition is a position in device pixels.
type PhysicalPosition struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// Size is a tagged width and height.
type Size struct {
	Kind   Kind
	Width  float64
	Height float64
}

// LogicalSize builds a Size in logical units.
func LogicalSize(width, height float64) Size {
	return Size{Kind: Logical, Width: width, Height: height}
}

// PhysicalSizeOf builds a Size in device pixels.
func PhysicalSizeOf(width, height uint32) Size {
	return Size{Kind: Physical, Width: float64(width), Height: float64(height)}
}

// Validate checks the tag and the dimensions.
func (s Size) Validate() error {
	if !s.Kind.valid() {
		return fmt.Errorf("%w, got %q", ErrInvalidKind, s.Kind)
	}
	if !nonNegative(s.Width) || !nonNegative(s.Height) {
		return fmt.Errorf("%w: %vx%v", ErrInvalidDimension, s.Width, s.Height)
	}
	return nil
}

// ToPhysical converts to device pixels using the window's scale factor.
func (s Size) ToPhysical(scale float64) PhysicalSize {
	w, h := s.Width, s.Height
	if s.Kind == Logical {
		w, h = w*scale, h*scale
	}
	return PhysicalSize{Width: uint32(math.Round(w)), Height: uint32(math.Round(h))}
}

// ToLogical converts to logical units using the window's scale factor.
func (s Size) ToLogical(scale float64) Size {
	if s.Kind == Logical || scale == 0 {
		return s
	}
	return LogicalSize(s.Width/scale, s.Height/scale)
}

type sizeData struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type tagged struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes {"type":"logical","data":{"width":..,"height":..}}.
func (s Size) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(sizeData{Width: s.Width, Height: s.Height})
	if err != nil {
		return nil, err
	}
	return json.Marshal(tagged{Type: s.Kind, Data: data})
}

// UnmarshalJSON decodes and validates a tagged size.
func (s *Size) UnmarshalJSON(b []byte) error {
	var t tagged
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	var d sizeData
	if len(t.Data) > 0 {
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return err
		}
	}
	out := Size{Kind: t.Type, Width: d.Width, Height: d.Height}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Position is a tagged x and y.
type Position struct {
	Kind Kind
	X    float64
	Y    float64
}

// LogicalPosition builds a Position in logical units.
func LogicalPosition(x, y float64) Position {
	return Position{Kind: Logical, X: x, Y: y}
}

// PhysicalPositionOf builds a Position in device pixels.
func PhysicalPositionOf(x, y int32) Position {
	return Position{Kind: Physical, X: float64(x), Y: float64(y)}
}

// Validate checks the tag and that both coordinates are finite.
func (p Position) Validate() error {
	if !p.Kind.valid() {
		return fmt.Errorf("%w, got %q", ErrInvalidKind, p.Kind)
	}
	if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidDimension, p.X, p.Y)
	}
	return nil
}

// ToPhysical converts to device pixels using the window's scale factor.
func (p Position) ToPhysical(scale float64) PhysicalPosition {
	x, y := p.X, p.Y
	if p.Kind == Logical {
		x, y = x*scale, y*scale
	}
	return PhysicalPosition{X: int32(math.Round(x)), Y: int32(math.Round(y))}
}

// ToLogical converts to logical units using the window's scale factor.
func (p Position) ToLogical(scale float64) Position {
	if p.Kind == Logical || scale == 0 {
		return p
	}
	return LogicalPosition(p.X/scale, p.Y/scale)
}

type positionData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarshalJSON encodes {"type":"physical","data":{"x":..,"y":..}}.
func (p Position) MarshalJSON() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(positionData{X: p.X, Y: p.Y})
	if err != nil {
		return nil, err
	}
	return json.Marshal(tagged{Type: p.Kind, Data: data})
}

// UnmarshalJSON decodes and validates a tagged position.
func (p *Position) UnmarshalJSON(b []byte) error {
	var t tagged
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	var d positionData
	if len(t.Data) > 0 {
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return err
		}
	}
	out := Position{Kind: t.Type, X: d.X, Y: d.Y}
	if err := out.Validate(); err != nil {
		return err
	}
	*p = out
	return nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
