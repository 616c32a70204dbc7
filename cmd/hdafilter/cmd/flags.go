// Copyright © 2019 One Concern

package cmd

type flagsT struct {
	root struct {
		logLevel string
	}
	clean struct {
		fromFile bool
		toFile   bool
	}
	smudge struct {
		fromFile bool
		toFile   bool
	}
	install struct {
		hotl  string
		local bool
	}
	status struct {
		local bool
	}
}

var params flagsT
