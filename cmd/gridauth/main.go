package main

import "github.com/jamesgorrie/grid/cmd/gridauth/cmd"

func main() {
	cmd.Execute()
}
