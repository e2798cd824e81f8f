// Command hash-generator prints the bcrypt hash of the cron trigger secret
// for use as LOTTERY_AUTH_CRON_SECRET_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/phrazzld/lottery-keeper/internal/service/auth"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	secret := flag.Arg(0)
	if secret == "" {
		fmt.Fprint(os.Stderr, "secret: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "failed to read secret: %v\n", err)
			os.Exit(1)
		}
		secret = strings.TrimSpace(line)
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "secret must not be empty")
		os.Exit(2)
	}

	hash, err := auth.HashSecret(secret, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
