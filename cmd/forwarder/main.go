package main

import "github.com/Log-Tools/secops-forwarder/cmd/forwarder/cmd"

func main() {
	cmd.Execute()
}
