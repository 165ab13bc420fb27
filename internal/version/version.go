// ABOUTME: Version and product identification
// ABOUTME: Reported by the CLI and sent by the reference server
package version

import "fmt"

const (
	// Version is the release version
	Version = "0.1.0"

	// Product is the product name
	Product = "Resonate TTS"

	// Manufacturer identifies the maker
	Manufacturer = "Resonate"
)

// String is the human-readable identification printed by `version`
func String() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}

// ServerHeader identifies the reference server in HTTP responses
func ServerHeader() string {
	return "resonate-tts-server/" + Version
}
