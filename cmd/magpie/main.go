// Magpie - multi-account cloud resource discovery and bulk tagging.
package main

func main() {
	Execute()
}
