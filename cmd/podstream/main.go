package main

import "github.com/drgolem/podstream/cmd"

func main() {
	cmd.Execute()
}
