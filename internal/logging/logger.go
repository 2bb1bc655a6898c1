package logging

import (
	"log"
	"os"
)

var (
	Store    = log.New(os.Stdout, "[store] ", log.LstdFlags)
	Cache    = log.New(os.Stdout, "[cache] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
	HTTP     = log.New(os.Stdout, "[http] ", log.LstdFlags)
)
