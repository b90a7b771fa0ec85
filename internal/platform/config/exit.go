package config

import (
	"fmt"
	"log"
	"os"
)

// Exitf writes a formatted error message to stderr, prefixed with the
// standard logger's prefix, and exits with code. Codes below one exit 1.
func Exitf(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, log.Prefix()+format+"\n", args...)
	if code <= 0 {
		code = 1
	}
	os.Exit(code)
}
