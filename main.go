package main

import "github.com/deploymenttheory/go-recovery/cmd"

func main() {
	cmd.Execute()
}
