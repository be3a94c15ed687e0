package main

import "github.com/openconf/meshrelay/cmd/meshctl/cmd"

func main() {
	cmd.Execute()
}
