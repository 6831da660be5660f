// Package firehose merges push-delivered session events from a primary
// stream and a secondary relay into one deduplicated feed, and provides the
// concrete source implementations behind it.
package firehose

import "github.com/user/firetail/internal/types"

// Compile-time interface compliance checks.
var _ types.ErrorSource = (*Multiplexer)(nil)
var _ types.ErrorSource = (*RelaySource)(nil)
var _ types.Source = (*StreamSource)(nil)
