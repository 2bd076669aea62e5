// Command arrgorenamer is the CLI client for the renamer pipeline: it
// drives internal/core directly against the local config-defined store,
// the way an HTTP transport would, since the HTTP/REST surface itself is
// out of scope for this module.
package main

func main() {
	Execute()
}
