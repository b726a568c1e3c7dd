package main

import "time"

// Flag structs decouple cobra from the handlers for testing.

type ServeFlags struct {
	ConfigPath string
}

type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	ClientFlags
	Lines     int
	ErrorOnly bool
}
