// ABOUTME: Control surface package for a running playthrough server
// ABOUTME: WebSocket request/response protocol, server and client
// Package control exposes a running server over a small JSON-over-WebSocket
// protocol at /control, and provides the matching client.
//
// Every request gets exactly one reply carrying its ID: server/state after
// a state-changing request, devices for devices/list, error on failure.
// devices/changed is pushed without an ID whenever the endpoint topology
// changes.
package control
