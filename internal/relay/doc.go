// Package relay delivers worker events to connected clients.
//
// Two channel shapes are supported. SSESink streams events one way over a
// Server-Sent Events response; it backs file analysis and the server side
// camera slots. CameraRelay is a WebSocket endpoint that feeds browser frames
// into a long-lived camera worker and writes the worker's events back over
// the same connection.
//
// Every relayed event is counted in metrics and mirrored on the event bus
// with frame images stripped.
package relay
