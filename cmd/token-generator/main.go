// Command token-generator issues an operator bearer token for the debug,
// force and reset task routes, signed with the configured JWT secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/phrazzld/lottery-keeper/internal/config"
	"github.com/phrazzld/lottery-keeper/internal/service/auth"
)

func main() {
	operator := flag.String("operator", "", "operator name recorded in the token subject")
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if *operator == "" {
		log.Fatal("-operator is required")
	}

	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigFile:  *configFile,
		DotEnvFiles: []string{".env"},
	})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to initialize JWT service: %v", err)
	}
	token, err := svc.GenerateToken(context.Background(), *operator)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}
