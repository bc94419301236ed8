//go:build !darwin

package main

// watchWake returns a channel that never fires; only macOS reports host
// wake.
func watchWake() <-chan struct{} {
	return make(chan struct{})
}
