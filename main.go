package main

import "mouse/internal/cli"

func main() {
	cli.Execute()
}
