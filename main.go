package main

import "github.com/lockplane/stepplane/cmd"

func main() {
	cmd.Execute()
}
