// ABOUTME: Entry point for the coview command line tool
// ABOUTME: Plays media through a processing tap and runs the room relay
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
