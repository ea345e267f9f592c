package main

import (
	"QShareFM/cmd"
)

func main() {
	cmd.Execute()
}
