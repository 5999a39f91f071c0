package main

import "github.com/eldtechnologies/courier/internal/cmd"

func main() {
	cmd.Execute()
}
