// Package main is the entry point for the ustack user-space network stack.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/ustack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
