package main

import "github.com/localgallery/photodedupe/cmd/photodedupe"

func main() {
	cmd.Execute()
}
