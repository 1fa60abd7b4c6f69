// Package glove implements the gRPC transport for the threat-escalation engine.
//
// Messages are protobuf well-known types encoded by the wire package, so the
// service is registered from a hand-written descriptor instead of generated
// stubs. The package also carries the matching client.
package glove
