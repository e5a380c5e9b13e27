package main

import "github.com/kebairia/snapkeep/cmd"

func main() {
	cmd.Execute()
}
