package main

import "github.com/san-techie21/gulama-gateway/cmd"

func main() {
	cmd.Execute()
}
