package main

import "nest-server/cmd"

func main() {
	cmd.Execute()
}
