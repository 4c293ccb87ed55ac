// Package signaling carries the offer/answer/ICE exchange between the local
// audio session and browser clients over WebSocket.
//
// The Hub owns the client set and is confined to the coordinator's event
// loop. The Server accepts WebSocket connections and reports connect, message
// and disconnect events; it never touches the Hub directly.
package signaling
