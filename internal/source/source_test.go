package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/lateral.plan/internal/carstate"
	"github.com/banshee-data/lateral.plan/internal/planner"
)

func frame(speed float64) Frame {
	return Frame{Inputs: planner.Inputs{
		Vehicle: planner.VehicleState{Speed: speed, Active: true, LeftBlinker: true},
		Live:    planner.LiveParameters{StiffnessFactor: 1, SteerRatio: 15.7},
	}}
}

// ----

func TestReaderRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	stale := false
	want := []Frame{frame(10), frame(12)}
	want[1].Valid = &stale
	for _, f := range want {
		require.NoError(t, Encode(&buf, f))
	}

	rd := NewReader(&buf)
	var got []Frame
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got[0].IsValid())
	assert.False(t, got[1].IsValid())
}

func TestReaderFieldNames(t *testing.T) {
	t.Parallel()

	line := `{"car_state":{"v_ego":20,"steering_angle_deg":-3,"active":true},"live_parameters":{"steer_ratio":14},"valid":true}`
	f, err := NewReader(strings.NewReader(line)).Next()
	require.NoError(t, err)
	assert.Equal(t, 20.0, f.Vehicle.Speed)
	assert.Equal(t, -3.0, f.Vehicle.SteeringAngleDeg)
	assert.True(t, f.Vehicle.Active)
	assert.Equal(t, 14.0, f.Live.SteerRatio)
	assert.True(t, f.IsValid())
}

func TestPlannerInputsDecodesGM(t *testing.T) {
	t.Parallel()

	line := `{"car_state":{"v_ego":99},"live_parameters":{"steer_ratio":14},` +
		`"gm":{"fl_wheel_spd":36,"fr_wheel_spd":36,"rl_wheel_spd":36,"rr_wheel_spd":36,` +
		`"turn_signals":2,"cruise_state":1,"regen_paddle":true}}`
	f, err := NewReader(strings.NewReader(line)).Next()
	require.NoError(t, err)
	require.NotNil(t, f.GM)

	in := f.PlannerInputs(carstate.CarVolt)
	assert.InDelta(t, 10.0, in.Vehicle.Speed, 1e-9)
	assert.True(t, in.Vehicle.RightBlinker)
	assert.True(t, in.Vehicle.Active)
	assert.Equal(t, 14.0, in.Live.SteerRatio)

	f.GM = nil
	assert.Equal(t, 99.0, f.PlannerInputs(carstate.CarVolt).Vehicle.Speed)
}

func TestReaderSkipsBlankAndComments(t *testing.T) {
	t.Parallel()

	in := "# recorded 2026-10-19\n\n" + `{"car_state":{"v_ego":1}}` + "\n   \n"
	rd := NewReader(strings.NewReader(in))
	f, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.Vehicle.Speed)
	assert.Equal(t, 3, rd.Line())

	_, err = rd.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderMalformedLine(t *testing.T) {
	t.Parallel()

	in := `{"car_state":{"v_ego":1}}` + "\nnot json\n" + `{"car_state":{"v_ego":2}}` + "\n"
	rd := NewReader(strings.NewReader(in))

	_, err := rd.Next()
	require.NoError(t, err)

	_, err = rd.Next()
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "line 2")

	f, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.Vehicle.Speed)
}

// ----

func TestStream(t *testing.T) {
	t.Parallel()

	in := `{"car_state":{"v_ego":1}}` + "\n{oops\n" + `{"car_state":{"v_ego":2}}` + "\n"
	out := make(chan Frame, 4)
	var skipped []error
	err := Stream(context.Background(), strings.NewReader(in), out, func(err error) {
		skipped = append(skipped, err)
	})
	require.NoError(t, err)

	var speeds []float64
	for f := range out {
		speeds = append(speeds, f.Vehicle.Speed)
	}
	assert.Equal(t, []float64{1, 2}, speeds)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], ErrMalformed)
}

func TestStreamCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Frame)
	err := Stream(ctx, strings.NewReader(`{"car_state":{"v_ego":1}}`+"\n"), out, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, open := <-out
	assert.False(t, open)
}

// ----

func TestPortOptionsNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", in: PortOptions{}, want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "even word", in: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: " even "}, want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	t.Parallel()

	mode, err := PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		StopBits: serial.TwoStopBits,
		Parity:   serial.OddParity,
	}, mode)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}

func TestOpenSerialMissingDevice(t *testing.T) {
	t.Parallel()

	_, err := OpenSerial("/dev/does-not-exist-lateral", PortOptions{})
	assert.Error(t, err)
}
