// Package execution runs virtual users according to a stage-based ramp.
//
// The ramping-vus mode reconciles the number of running VUs against a
// piecewise-linear target curve on every tick. Surplus VUs are asked to
// stop and finish their current iteration; they are never interrupted
// mid-request. The constant-vus mode is the same scheduler with a single
// flat stage.
package execution
