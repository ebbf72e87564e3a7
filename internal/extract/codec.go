// Package extract unpacks payload archives through an external codec,
// handling nested wrappers and split multi-part archives.
package extract

import (
	"context"
)

// OutputCallback receives each textual output line from a codec.
type OutputCallback func(line string)

// Codec is the external archive codec interface. Implementations report
// their textual output (used for progress parsing) through the callback.
type Codec interface {
	// Extract unpacks archivePath into destDir.
	Extract(ctx context.Context, archivePath, destDir string, onOutput OutputCallback) error
}
