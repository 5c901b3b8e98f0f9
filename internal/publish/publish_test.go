package publish

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/banshee-data/lateral.plan/internal/bus"
	"github.com/banshee-data/lateral.plan/internal/lanechange"
	"github.com/banshee-data/lateral.plan/internal/mpc"
	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedPublisher(b *bus.Bus[Message], liveMpc bool) *Publisher {
	p := NewPublisher(b, liveMpc)
	at := p.start
	p.now = func() time.Time {
		at = at.Add(50 * time.Millisecond)
		return at
	}
	return p
}

func TestPublishPlanOnly(t *testing.T) {
	b := bus.New[Message](4)
	_, ch := b.Subscribe()
	p := fixedPublisher(b, false)

	out := planner.Output{AngleSteersDeg: 2.5, MPCSolutionValid: true, Desire: lanechange.DesireLaneChangeLeft}
	p.Publish(out, planner.Diagnostics{}, true)

	require.Len(t, ch, 1)
	msg := <-ch
	assert.Equal(t, TopicLateralPlan, msg.Topic)
	assert.True(t, msg.Valid)
	assert.Equal(t, int64(50*time.Millisecond), msg.LogMonoTime)
	require.NotNil(t, msg.LateralPlan)
	assert.Equal(t, 2.5, msg.LateralPlan.AngleSteersDeg)
	assert.Nil(t, msg.LiveMpc)
}

func TestPublishLiveMpc(t *testing.T) {
	b := bus.New[Message](4)
	_, ch := b.Subscribe()
	p := fixedPublisher(b, true)

	diag := planner.Diagnostics{Solution: mpc.Solution{
		X:         []float64{0, 1},
		TireAngle: []float64{0.01, 0.02},
		Cost:      42,
	}}
	p.Publish(planner.Output{}, diag, false)

	require.Len(t, ch, 2)
	<-ch
	msg := <-ch
	assert.Equal(t, TopicLiveMpc, msg.Topic)
	assert.False(t, msg.Valid)
	require.NotNil(t, msg.LiveMpc)
	assert.Equal(t, 42.0, msg.LiveMpc.Cost)
	assert.Equal(t, []float64{0.01, 0.02}, msg.LiveMpc.TireAngle)
}

func TestMessageJSON(t *testing.T) {
	out := planner.Output{LaneChangeState: lanechange.LaneChangeStarting, LaneChangeDirection: lanechange.DirectionRight}
	b, err := json.Marshal(Message{Topic: TopicLateralPlan, LateralPlan: &out})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"laneChangeState":"laneChangeStarting"`)
	assert.Contains(t, string(b), `"laneChangeDirection":"right"`)
	assert.NotContains(t, string(b), "live_mpc")
}

func TestLiveMpcFromEnv(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"1":     true,
		"true":  true,
		"0":     false,
		"false": false,
		"yes":   true,
	}
	for value, want := range cases {
		t.Run("LOG_MPC="+value, func(t *testing.T) {
			t.Setenv(LogMPCEnv, value)
			assert.Equal(t, want, LiveMpcFromEnv())
		})
	}
}
