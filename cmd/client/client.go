package main

import (
	"os"

	. "hotline-client/internel/log"
)

func main() {
	ParseConfig()
	InitLogger(GConf.Debug)

	if err := run(); err != nil {
		Log.Errorln(err.Error())
		os.Exit(1)
	}
}
