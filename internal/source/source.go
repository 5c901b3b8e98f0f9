// Package source reads per-tick planner input snapshots from a JSON-lines
// stream, either a replay file or a serial feed.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/lateral.plan/internal/carstate"
	"github.com/banshee-data/lateral.plan/internal/planner"
)

// maxLineBytes bounds one snapshot line. A full forecast is a few KB.
const maxLineBytes = 1 << 20

// ErrMalformed marks a line that is not a valid snapshot.
var ErrMalformed = errors.New("malformed snapshot")

// Frame is one tick of input. Valid reports whether every upstream input was
// fresh; when absent the frame is treated as valid. A frame recorded from a GM
// car may carry the raw signal sample instead of a decoded car_state.
type Frame struct {
	planner.Inputs
	Valid *bool             `json:"valid,omitempty"`
	GM    *carstate.Signals `json:"gm,omitempty"`
}

// PlannerInputs returns the planner inputs, decoding the GM sample into the
// vehicle state when present.
func (f Frame) PlannerInputs(car carstate.Car) planner.Inputs {
	in := f.Inputs
	if f.GM != nil {
		in.Vehicle = carstate.Decode(car, *f.GM).VehicleState()
	}
	return in
}

// IsValid reports the frame's freshness flag.
func (f Frame) IsValid() bool {
	return f.Valid == nil || *f.Valid
}

// Reader decodes frames line by line. Blank lines and lines starting with '#'
// are skipped.
type Reader struct {
	scan *bufio.Scanner
	line int
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scan: scan}
}

// Line is the number of the last line read.
func (r *Reader) Line() int { return r.line }

// Next returns the next frame. It returns io.EOF at the end of input and an
// error wrapping ErrMalformed for an undecodable line; reading may continue
// after a malformed line.
func (r *Reader) Next() (Frame, error) {
	for r.scan.Scan() {
		r.line++
		text := strings.TrimSpace(r.scan.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(text), &f); err != nil {
			return Frame{}, fmt.Errorf("line %d: %w: %v", r.line, ErrMalformed, err)
		}
		return f, nil
	}
	if err := r.scan.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// Stream decodes frames from r and sends them on out until the input ends or
// ctx is cancelled. Malformed lines are reported through skip, when set, and
// dropped. out is closed on return.
func Stream(ctx context.Context, r io.Reader, out chan<- Frame, skip func(error)) error {
	defer close(out)
	rd := NewReader(r)
	for {
		f, err := rd.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrMalformed):
			if skip != nil {
				skip(err)
			}
			continue
		case err != nil:
			return err
		}

		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Encode writes f as one snapshot line.
func Encode(w io.Writer, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
