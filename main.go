package main

import "github.com/behzadon/livepoll/cmd"

func main() {
	cmd.Execute()
}
