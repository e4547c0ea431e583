// Command git-remote-bq2 is a git remote helper (invoked by git itself
// as `git-remote-bq2 <remote> <url>` for URLs of the form
// `bq2::https://host/repo.git`) implementing the capabilities/option/
// list/fetch/push/quit protocol of spec §4.4 on stdin/stdout.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/embedconsult/bootstrap-qcow2/internal/fetcher"
	"github.com/embedconsult/bootstrap-qcow2/internal/gitremote"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: git-remote-bq2 <remote> <url>")
		os.Exit(1)
	}
	base := strings.TrimPrefix(os.Args[2], "bq2::")

	localDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-bq2: %v\n", err)
		os.Exit(1)
	}

	client := fetcher.New()
	if creds, err := fetcher.LoadCredentialsFile(os.Getenv("BQ2_GIT_CREDENTIALS")); err == nil {
		client.Credentials = creds
	}

	h := gitremote.NewHelper(client, base, localDir)
	if err := h.Run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-bq2: %v\n", err)
		os.Exit(1)
	}
}
