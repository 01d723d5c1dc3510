// Package types defines the core data structures shared by the load engine.
//
// This package contains the fundamental types used throughout the engine,
// including:
//   - Test scripts, stages and execution modes
//   - Request, response and check definitions
//   - Threshold definitions, results and the final verdict
package types
