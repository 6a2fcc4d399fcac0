package main

import "github.com/rdudhagra/avatar-streamer/internal/cli"

func main() {
	cli.Execute()
}
