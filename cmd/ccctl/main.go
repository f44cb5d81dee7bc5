package main

import (
	"github.com/tmarkwell/checkclock/cmd/ccctl/arg"
)

func main() {
	arg.Execute()
}
