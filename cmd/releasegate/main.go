// releasegate — privacy release decisions for derived features.
package main

import "github.com/releasegate/releasegate/internal/cli"

func main() {
	cli.Execute()
}
