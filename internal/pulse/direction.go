package pulse

import "fmt"

// DirectionSensor reports the current rotation sense.
// Sample must not block; it reflects the line level at call time only.
type DirectionSensor interface {
	Sample() (Direction, error)
}

// LevelReader reads the debounced logic level of an input line.
type LevelReader interface {
	Value() (int, error)
}

// LevelDirection classifies a direction line by its level: reverseLevel
// means Reverse, anything else Forward.
type LevelDirection struct {
	line         LevelReader
	reverseLevel int
}

// NewLevelDirection adapts a level reader into a DirectionSensor.
func NewLevelDirection(line LevelReader, reverseLevel int) *LevelDirection {
	return &LevelDirection{line: line, reverseLevel: reverseLevel}
}

// Sample reads the line once.
func (d *LevelDirection) Sample() (Direction, error) {
	v, err := d.line.Value()
	if err != nil {
		return Forward, fmt.Errorf("read direction line: %w", err)
	}
	if v == d.reverseLevel {
		return Reverse, nil
	}
	return Forward, nil
}
