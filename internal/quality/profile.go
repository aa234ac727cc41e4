package quality

import (
	"errors"
	"fmt"
)

// Direction identifies which read of a pair a report describes.
type Direction int

const (
	Unknown Direction = iota
	Forward
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return "unknown"
	}
}

// Point is the mean quality observed at one 1-based read position.
type Point struct {
	Position int     `json:"position"`
	Mean     float64 `json:"mean"`
}

// Profile is the per-position mean quality of one sample/direction.
// Positions are contiguous starting at 1.
type Profile struct {
	SampleID  string
	Direction Direction
	Points    []Point
}

// MaxPosition returns the last position in the profile, or 0 when empty.
func (p Profile) MaxPosition() int {
	if len(p.Points) == 0 {
		return 0
	}
	return p.Points[len(p.Points)-1].Position
}

// Report locates a quality report on disk together with the identity
// derived from its name.
type Report struct {
	Path      string
	Name      string
	SampleID  string
	Direction Direction
}

// ErrModuleNotFound is returned when a report has no per-base quality module.
var ErrModuleNotFound = errors.New("per-base quality module not found")

// ErrModuleUnterminated is returned when the quality module has no end marker.
var ErrModuleUnterminated = errors.New("per-base quality module not terminated")

// ParseError reports a report that could not be turned into a profile.
// The estimator skips the sample and continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse quality report %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward":
		return Forward, nil
	case "reverse":
		return Reverse, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown read direction %q", s)
}
