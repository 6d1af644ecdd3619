package main

import (
	"fmt"
	"log"
	"os"

	"github.com/vncsmyrnk/qvote/internal/config"
	"github.com/vncsmyrnk/qvote/internal/core/services"
)

// Usage: issuetoken -sub <address|name> [-role admin|voter] [-ttl 24h]
func main() {
	iss, err := config.LoadIssuer(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	tokens, err := services.NewTokenService([]byte(iss.Secret), iss.TTL)
	if err != nil {
		log.Fatal(err)
	}

	token, err := tokens.Issue(iss.Subject, iss.Role)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
