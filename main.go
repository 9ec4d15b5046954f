package main

import "github.com/antlerlab/antlerbot/cmd"

func main() {
	cmd.Execute()
}
