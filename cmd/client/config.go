package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/shirou/gopsutil/host"

	"hotline-client/internel/shared"
)

type Config struct {
	Server   string `short:"s" long:"server" description:"server address as host or host:port"`
	Login    string `short:"l" long:"login" description:"account login, empty for guest"`
	Password string `short:"p" long:"password" description:"account password"`
	Name     string `short:"n" long:"name" description:"optional display name shown to other users"`
	Icon     uint16 `long:"icon" description:"optional icon id"`

	List     string `long:"list" description:"list a remote directory, / for the root" optional:"true" optional-value:"/"`
	Download string `long:"download" description:"download a remote file or folder by path"`
	Out      string `long:"out" description:"optional local directory for downloads"`
	Resume   bool   `long:"resume" description:"optional resume a partial download"`
	Upload   string `long:"upload" description:"upload a local file or folder"`
	To       string `long:"to" description:"optional remote directory for uploads"`
	News     string `long:"news" description:"list news under a category path" optional:"true" optional-value:"/"`
	Board    bool   `long:"board" description:"show the message board"`
	Post     string `long:"post" description:"post a message to the board"`
	Watch    bool   `long:"watch" description:"stay connected and print chat and user events"`
	Debug    bool   `long:"debug" description:"optional verbose logging"`
}

var GConf *Config

func ParseConfig() {
	GConf = &Config{
		Icon: 128,
		Out:  ".",
	}

	if info, err := host.Info(); err == nil {
		GConf.Name = info.Hostname
	}

	_, err := flags.Parse(GConf)
	if err != nil {
		os.Exit(1)
	}

	if GConf.Server == "" {
		fmt.Println("server address can not be empty, please use -h to see help")
		os.Exit(1)
	}
	if !strings.Contains(GConf.Server, ":") {
		GConf.Server = fmt.Sprintf("%s:%d", GConf.Server, shared.DefaultPort)
	}
}

// splitRemotePath turns a slash path from the command line into protocol
// path segments; "/" and "" address the root.
func splitRemotePath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
