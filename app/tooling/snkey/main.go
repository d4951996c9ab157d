// This program provides key management for a storage node: generating
// the long term identity, deriving the public encodings, and signing
// artifacts.
package main

import (
	"github.com/overlaynet/storenode/app/tooling/snkey/cmd"
)

func main() {
	cmd.Execute()
}
