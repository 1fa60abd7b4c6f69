// Package wire maps domain values onto protobuf well-known types.
//
// The gRPC service and the incident file exchange google.protobuf.Struct
// documents; this package owns their field names and validates them on the
// way back in.
package wire
