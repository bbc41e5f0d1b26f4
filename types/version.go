package types

// Version is the canonical project version.
// The CLI, the record wire format, and persisted result records share
// this version.
const Version = "0.1.0"

// RecordVersion is the version stamped on framed and persisted records.
const RecordVersion = Version
