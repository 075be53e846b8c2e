// Command schemadump recovers type schemas from module images.
package main

import "schemadump/internal/cli"

func main() {
	cli.Execute()
}
