package main

import "github.com/naka-gawa/traffic-archive/cmd"

func main() {
	cmd.Execute()
}
