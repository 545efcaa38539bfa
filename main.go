package main

import (
	"fmt"
)

func main() {
	fmt.Println("pgtx - Postgres Two-Phase Transaction Toolkit")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  Operator tool:  go run ./cmd/pgtpc <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  recover  [--dsn=<dsn>]          - List outstanding prepared transactions")
	fmt.Println("  commit   --gid=<gid>            - Commit a recovered transaction")
	fmt.Println("  rollback --gid=<gid>            - Roll back a recovered transaction")
	fmt.Println("  status   [--dsn=<dsn>]          - Show server 2PC capability and backlog")
	fmt.Println("  roundtrip [--dsn=<dsn>]         - Probe begin/prepare/rollback end to end")
}
