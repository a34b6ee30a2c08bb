// Package protocol encodes gestures into the actuator's ASCII line protocol.
//
// Each command is the gesture name followed by a single '\n'. There is no
// framing, checksum or acknowledgement.
package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ayusman/gripctl/internal/gesture"
)

// Terminator ends every command line.
const Terminator = '\n'

// ErrNotActionable is the panic value raised when Encode is called with a
// gesture that has no wire command.
var ErrNotActionable = errors.New("gesture has no actuator command")

// ErrUnknownCommand is returned by Decode for lines outside the vocabulary.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one wire-level actuator instruction.
type Command struct {
	Gesture gesture.Gesture
	Payload []byte
}

func (c Command) String() string {
	return string(c.Gesture)
}

// Encode returns the command for g. Only Open and Fist have commands;
// anything else is a caller bug and panics.
func Encode(g gesture.Gesture) Command {
	if !g.Actionable() {
		panic(fmt.Errorf("%w: %s", ErrNotActionable, g))
	}
	payload := make([]byte, 0, len(g)+1)
	payload = append(payload, g...)
	payload = append(payload, Terminator)
	return Command{Gesture: g, Payload: payload}
}

// Decode parses one received line, with or without its terminator.
func Decode(line []byte) (gesture.Gesture, error) {
	line = bytes.TrimRight(line, "\r\n")
	g := gesture.Gesture(line)
	if !g.Actionable() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	return g, nil
}
