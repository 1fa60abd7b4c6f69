// Package client implements the operator and producer commands of safeglove-ctl.
//
// Every operation connects to the engine over gRPC, performs one request and
// renders the result for a terminal.
package client
