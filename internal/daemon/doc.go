// Package daemon provides the termsfx daemon runtime.
// It coordinates the rule store, config hot-reload, the unix socket
// request server and dispatch to the audio gateway.
package daemon
