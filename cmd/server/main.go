package main

import "github.com/Togather-Foundation/passvault/cmd/server/cmd"

func main() {
	cmd.Execute()
}
