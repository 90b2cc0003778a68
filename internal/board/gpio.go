// Package board holds the board-level collaborators around the vibrator:
// a GPIO power gate for the driver supply and the auxiliary supply line
// some boards need for long vibrations.
package board

import (
	"fmt"
	"sync"
)

// outputLine is a single digital output.
type outputLine interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

// lineOutput drives one named GPIO line and remembers the last level it set.
type lineOutput struct {
	name string

	mu    sync.Mutex
	line  outputLine
	value int
}

func openOutput(name, consumer string) (*lineOutput, error) {
	if name == "" {
		return nil, fmt.Errorf("board: gpio line name is empty")
	}
	line, err := openLineFn(name, consumer)
	if err != nil {
		return nil, err
	}
	return &lineOutput{name: name, line: line}, nil
}

// set drives the line. changed reports whether the level differed.
func (o *lineOutput) set(v int) (changed bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.line == nil {
		return false, fmt.Errorf("board: gpio %s is closed", o.name)
	}
	if v == o.value {
		return false, nil
	}
	if err := o.line.SetValue(v); err != nil {
		return false, fmt.Errorf("board: gpio %s set %d: %w", o.name, v, err)
	}
	o.value = v
	return true, nil
}

func (o *lineOutput) get() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// close drives the line low and releases it.
func (o *lineOutput) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.line == nil {
		return nil
	}
	_ = o.line.SetValue(0)
	err := o.line.Close()
	o.line = nil
	o.value = 0
	return err
}
