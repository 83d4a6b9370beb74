// Package api implements the HTTP REST API and WebSocket server for PLCWatch Core.
//
// This package provides:
//   - REST endpoints for controller and register configuration
//   - Live register reads and writes through the Modbus engine
//   - Monitoring control (start/stop poll loops, link status)
//   - WebSocket hub relaying decoded register snapshots
//   - JWT authentication with ticket-based WebSocket auth
//
// # Architecture
//
// The API server sits between operator UIs and the engine. Configuration
// changes go to the plc catalogue service, which persists them and keeps the
// engine registry in step. Snapshots published by poll loops on the update
// bus are forwarded to WebSocket clients subscribed to "register_update".
//
// # Security
//
// Every route except /health and /auth/login requires a bearer token issued
// by POST /auth/login. Routes are gated by role permissions (plc:read,
// plc:operate, plc:configure, user:manage). WebSocket connections use
// single-use tickets so the token never appears in a URL.
//
// # Graceful Degradation
//
// MQTT is optional: the API, live reads and writes, and WebSocket relay all
// work without a broker.
package api
