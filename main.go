package main

import "github.com/protrackhq/protrack/cmd"

func main() {
	cmd.Execute()
}
