// Package server implements the room chat WebSocket service.
//
// A Hub owns every live Session, the room registry, the admission controller
// and the AI completion relay. Sessions run one read pump and one write pump
// each; inbound frames go through the Dispatcher, whose handlers publish
// through the Router. Server wires the Hub to HTTP routes.
package server
