package locations

import _ "embed"

// defaultRegistry is the built-in location set, used when no locations
// file exists under the data directory.
//
//go:embed locations.yaml
var defaultRegistry []byte
