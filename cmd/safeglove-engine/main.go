package main

import "github.com/oshokin/safeglove/cmd/safeglove-engine/cmd"

func main() {
	cmd.Execute()
}
