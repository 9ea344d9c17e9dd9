package main

import "commandbot/cmd"

func main() {
	cmd.Execute()
}
