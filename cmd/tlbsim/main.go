package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/tlbsim/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
