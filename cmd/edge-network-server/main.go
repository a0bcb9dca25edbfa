package main

import "github.com/loraedge/edge-network-server/cmd/edge-network-server/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
