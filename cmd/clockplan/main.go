package main

import "lpc11u-hal/cmd/clockplan/cli"

func main() {
	cli.Execute()
}
