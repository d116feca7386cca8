package main

import "github.com/trobanga/gdmclip/cmd"

func main() {
	cmd.Execute()
}
