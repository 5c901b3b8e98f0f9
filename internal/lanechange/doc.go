// Package lanechange owns the automated lane-change protocol.
//
// Responsibilities: blinker debouncing, torque-nudge confirmation,
// blind-spot gating, the off → pre → starting → finishing lifecycle, the
// 10 s abort ceiling, and the lane-line blend factor that fades lane
// centering out and back in around the manoeuvre.
// Key types: Context, Inputs, Config, Desire.
//
// Step is a pure function of (Context, Inputs, Config). The planner owns the
// Context value and replaces it once per tick; nothing here keeps hidden
// state, so a recorded tick stream replays deterministically.
package lanechange
