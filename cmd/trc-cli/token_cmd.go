package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"traderchain/crypto"
	"traderchain/gateway/middleware"
)

var tokenNow = time.Now

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var subject, scope, secret, issuer, audience string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "", "account the token acts as")
	fs.StringVar(&scope, "scope", "", "comma separated scopes (fund:invest, fund:trade, admin)")
	fs.StringVar(&secret, "secret", os.Getenv("FUNDD_JWT_SECRET"), "HMAC secret shared with fundd")
	fs.StringVar(&issuer, "issuer", "fundd", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(subject) == "" {
		return printError(stderr, "--subject is required")
	}
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --subject: %v", err))
	}
	var scopes []string
	for _, s := range strings.Split(scope, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	cfg := middleware.AuthConfig{HMACSecret: secret, Issuer: issuer, Audience: audience}
	token, err := middleware.IssueToken(cfg, addr, tokenNow(), ttl, scopes...)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
