package dump

import (
	"context"
	"io"
)

// Source produces a logical dump of one database schema.
type Source interface {
	// Dump starts the export and returns the raw dump stream. Closing the
	// stream reaps the underlying process; a non-zero exit status surfaces
	// as the Close error, since it is only known once the stream ends.
	Dump(ctx context.Context) (io.ReadCloser, error)

	// Schema returns the name of the database being exported.
	Schema() string
}

// Pinger is implemented by sources that can check server reachability
// before the export starts.
type Pinger interface {
	Ping(ctx context.Context) error
}
