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
			fmt.Fprintln(os.Stderr, "usage: clubadmin setup --admin-password <password> [--admin-username admin] [--force]")
			fmt.Fprintln(os.Stderr, "       clubadmin run console|devapi|all")
			fmt.Fprintln(os.Stderr, "       clubadmin backup [--out FILE] | backup inspect FILE")
			fmt.Fprintln(os.Stderr, "       clubadmin journal status|sweep")
			fmt.Fprintln(os.Stderr, "       clubadmin assets build | pdf install | catalog")
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
