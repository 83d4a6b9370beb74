// Package audit keeps a trail of operator actions: controller and register
// configuration changes, register writes, monitoring start/stop, account
// changes and logins.
//
// Register values read by the poll loops are never recorded here.
//
// Callers go through a Recorder, which never fails the operation being
// audited. A storage error is logged and the action proceeds.
package audit
