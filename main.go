package main

import "imgforge/cmd"

func main() {
	cmd.Execute()
}
