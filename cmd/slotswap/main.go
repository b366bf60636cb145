// Command slotswap はカレンダースロット交換サービスのAPIサーバー、ワーカー、
// マイグレーションを1つのバイナリで提供する。
//
//	slotswap [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/slotswap/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "slotswap: %v\n", err)
		os.Exit(1)
	}
}
