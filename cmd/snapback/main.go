// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/snapback/cmd/snapback/cmd"
)

func main() {
	cmd.Execute()
}
