// Command dimred runs dimensionality-reduction methods from the command
// line and serves them over gRPC.
package main

func main() {
	Execute()
}
