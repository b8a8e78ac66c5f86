package main

import (
	"github.com/luma/rudis/cmd"
)

func main() {
	cmd.Execute()
}
