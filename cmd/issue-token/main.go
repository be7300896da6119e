package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		adminID   int
		studentID int
		perms     string
		ttl       time.Duration
		prompt    bool
	)
	flag.IntVar(&adminID, "admin", 0, "Issue an admin token for this ID")
	flag.IntVar(&studentID, "student", 0, "Issue a student token for this ID (needs Redis)")
	flag.StringVar(&perms, "perm", "all", "Comma-separated admin permissions, or 'all'")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (default: JWT_EXPIRY_HOURS)")
	flag.BoolVar(&prompt, "prompt-secret", false, "Read the JWT secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if (adminID > 0) == (studentID > 0) {
		fmt.Fprintln(os.Stderr, "Usage: issue-token (-admin ID [-perm a,b] | -student ID) [-ttl 2h] [-prompt-secret]")
		os.Exit(2)
	}
	if ttl > 0 {
		cfg.JWTExpiry = ttl
	}
	if prompt {
		fmt.Fprint(os.Stderr, "JWT secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read secret")
		}
		cfg.JWTSecret = strings.TrimSpace(string(secret))
	}
	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT secret is empty")
	}

	if adminID > 0 {
		codes, err := parsePermissions(perms)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid permissions")
		}
		token, err := service.NewAuthService(cfg, nil).GenerateAdminToken(adminID, codes)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		log.Info().Int("admin_id", adminID).Strs("permissions", codes).Dur("ttl", cfg.JWTExpiry).Msg("Admin token issued")
		fmt.Println(token)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	token, err := service.NewAuthService(cfg, rdb).GenerateStudentToken(ctx, studentID)
	if err != nil {
		log.Fatal().Err(err).Int("student_id", studentID).Msg("Failed to issue student token")
	}
	log.Info().Int("student_id", studentID).Dur("ttl", cfg.JWTExpiry).Msg("Student token issued")
	fmt.Println(token)
}

func parsePermissions(raw string) ([]string, error) {
	known := make(map[string]bool, len(model.AllPermissions))
	all := make([]string, 0, len(model.AllPermissions))
	for _, p := range model.AllPermissions {
		known[string(p)] = true
		all = append(all, string(p))
	}
	if strings.TrimSpace(raw) == "all" {
		return all, nil
	}

	var codes []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !known[p] {
			return nil, fmt.Errorf("unknown permission %q", p)
		}
		codes = append(codes, p)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("no permissions given")
	}
	return codes, nil
}
