package main

import "rfi-copilot/internal/cli"

func main() {
	cli.Execute()
}
