// Command admintoken mints a bearer token for the admin import endpoints,
// signed with the same AUTH_* configuration the server loads.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"passculture/internal/jwttoken"
	"passculture/internal/platform/config"
	"passculture/internal/platform/logger"
	id "passculture/pkg/domain"
)

func main() {
	userFlag := flag.String("user", "", "admin user id (uuid); a random id when empty")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New(config.LogConfig{Level: "error"}).Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	userID := id.NewUserID()
	if *userFlag != "" {
		if userID, err = id.ParseUserID(*userFlag); err != nil {
			log.Error("invalid user id", "error", err)
			os.Exit(2)
		}
	}

	token, err := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience).
		GenerateAccessToken(userID, true, *ttl)
	if err != nil {
		log.Error("sign token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
