package main

import "github.com/mintrelay/mintrelay/cmd"

func main() {
	cmd.Execute()
}
