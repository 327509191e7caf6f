// export-stub stands in for the chat export tool in integration tests and
// local runs without a Python environment. It accepts the same arguments,
// checks that both databases exist, and writes one small file per
// conversation type.
//
// Usage: export-stub -mdb MSGSTORE -wdb WA -o OUTPUT [-s STYLE] [-t TYPE...]
//
// Setting EXPORT_STUB_FAIL makes it exit with status 3 and print the
// variable's value to stderr.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

const exitFailure = 3

func main() {
	msgStore := flag.String("mdb", "", "message store database")
	contacts := flag.String("wdb", "", "contacts database")
	output := flag.String("o", "", "output directory")
	style := flag.String("s", "formatted_txt", "output style")
	firstType := flag.String("t", "", "conversation types")
	flag.Parse()

	if msg := os.Getenv("EXPORT_STUB_FAIL"); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(exitFailure)
	}

	if *msgStore == "" || *contacts == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "-mdb, -wdb and -o are required")
		os.Exit(2)
	}

	for _, db := range []string{*msgStore, *contacts} {
		if _, err := os.Stat(db); err != nil {
			fmt.Fprintf(os.Stderr, "database not readable: %v\n", err)
			os.Exit(exitFailure)
		}
	}

	types := flag.Args()
	if *firstType != "" {
		types = append([]string{*firstType}, types...)
	}

	if len(types) == 0 {
		types = []string{"call_logs", "chats", "contacts"}
	}

	for _, ct := range types {
		dir := filepath.Join(*output, ct)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "creating %s: %v\n", dir, err)
			os.Exit(exitFailure)
		}

		body := fmt.Sprintf("style=%s\nmsgstore=%s\ncontacts=%s\n", *style, *msgStore, *contacts)
		if err := os.WriteFile(filepath.Join(dir, "export.txt"), []byte(body), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "writing %s: %v\n", dir, err)
			os.Exit(exitFailure)
		}
	}

	fmt.Printf("exported %d files\n", len(types))
}
