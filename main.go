package main

import "github.com/acceldata-io/ozone-sub000/cmd"

func main() {
	cmd.Execute()
}
