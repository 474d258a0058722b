package main

import "github.com/teilen/snap-to-days/cmd"

func main() {
	cmd.Execute()
}
