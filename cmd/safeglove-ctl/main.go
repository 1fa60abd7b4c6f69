package main

import "github.com/oshokin/safeglove/cmd/safeglove-ctl/cmd"

func main() {
	cmd.Execute()
}
