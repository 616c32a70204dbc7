// Copyright © 2019 One Concern

package main

import (
	"github.com/oneconcern/hdafilter/cmd/hdafilter/cmd"
)

func main() {
	cmd.Execute()
}
