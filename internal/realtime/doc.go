// Package realtime implements the client side of the Tiger-ID realtime event
// channel.
//
// One Manager per session owns a single WebSocket to the backend:
//   - connects with the current session token embedded in the dial URL
//   - recovers from unintentional disconnects with capped exponential backoff
//   - joins/leaves investigation topics via typed control frames
//   - routes inbound events to a subscriber callback and notification sink
//
// Handlers for a superseded connection may fire after a newer connection is
// already active; every lifecycle handler checks the connection generation
// before acting.
package realtime
