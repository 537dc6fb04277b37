// Command facectl administers a running facedoor API: listing, deleting,
// exporting and bulk-importing enrolled faces.
package main

func main() {
	Execute()
}
