package main

import "github.com/dockerops/dockerops/cmd"

func main() {
	cmd.EntryPoint()
}
