package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/clubadmin/internal/clubcli"
)

func main() {
	if err := clubcli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, clubcli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr)
			clubcli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
