// The main package for the webcrawler command line crawler.
package main

import (
	"github.com/JakeFAU/layered-crawler/cmd"
)

func main() {
	cmd.Execute()
}
