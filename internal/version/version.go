// ABOUTME: Build version and product identification
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

import "fmt"

// Version is the release version, set by the build
var Version = "0.1.0-dev"

const (
	Product      = "coview"
	Manufacturer = "Resonate Protocol"
)

// String returns the product and version for logs and the CLI
func String() string {
	return fmt.Sprintf("%s %s", Product, Version)
}
