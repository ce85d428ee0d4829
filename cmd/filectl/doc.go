// Package main (cmd/filectl) is a command line client for the gateway HTTP
// API.
//
// Example usage:
//
//	filectl upload photo.png notes.txt
//	filectl list -q photo
//	filectl pin 3f6c1a2e-...
//	filectl download -o photo.png bafkrei...
//	filectl mode remote --provider infura
//	filectl node --watch 5s
//
// The gateway address defaults to http://127.0.0.1:8080 and can be set with
// --gateway-addr or NEXUS_GATEWAY_ADDR.
package main
