package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	httpclient "github.com/astro-web3/projecthub-auth/pkg/http"
	"github.com/go-resty/resty/v2"
)

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	Principal    struct {
		Subject string   `json:"subject"`
		Roles   []string `json:"roles"`
	} `json:"principal"`
}

type check struct {
	Allowed      bool   `json:"allowed"`
	ResourceType string `json:"resourceType"`
}

// Walks a live server through login, an authenticated call, a permission
// check, refresh rotation, replay rejection and logout.
func main() {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <email> <password> [server-addr]", os.Args[0])
	}
	email, password := os.Args[1], os.Args[2]
	base := "http://localhost:8080"
	if len(os.Args) > 3 {
		base = "http://localhost" + os.Args[3]
	}
	ctx := context.Background()

	var login envelope[tokens]
	resp, err := httpclient.Post(ctx, base+"/api/auth/login",
		httpclient.WithBody(map[string]string{"email": email, "password": password}),
		httpclient.WithResult(&login),
	)
	mustStatus("login", resp, err, http.StatusOK)
	fmt.Printf("✅ Logged in as %s %v (access expires in %ds)\n",
		login.Data.Principal.Subject, login.Data.Principal.Roles, login.Data.ExpiresIn)

	resp, err = httpclient.Get(ctx, base+"/api/auth/me", httpclient.WithAuthToken(login.Data.AccessToken))
	mustStatus("me", resp, err, http.StatusOK)
	fmt.Println("✅ Access token accepted by the gate")

	resp, err = httpclient.Get(ctx, base+"/api/auth/me", httpclient.WithAuthToken(login.Data.RefreshToken))
	mustStatus("me with refresh token", resp, err, http.StatusUnauthorized)
	fmt.Println("✅ Refresh token rejected as a bearer credential")

	var decision envelope[check]
	resp, err = httpclient.Get(ctx, base+"/api/authz/check?action=EDIT_PROJECT&resourceId=1",
		httpclient.WithAuthToken(login.Data.AccessToken),
		httpclient.WithResult(&decision),
	)
	mustStatus("check", resp, err, http.StatusOK)
	fmt.Printf("✅ EDIT_PROJECT on %s 1: allowed=%t\n", decision.Data.ResourceType, decision.Data.Allowed)

	var rotated envelope[tokens]
	resp, err = httpclient.Post(ctx, base+"/api/auth/refresh",
		httpclient.WithBody(map[string]string{"refreshToken": login.Data.RefreshToken}),
		httpclient.WithResult(&rotated),
	)
	mustStatus("refresh", resp, err, http.StatusOK)
	if rotated.Data.AccessToken == login.Data.AccessToken {
		log.Fatal("❌ refresh returned the same access token")
	}
	fmt.Println("✅ Refresh rotated the token pair")

	resp, err = httpclient.Post(ctx, base+"/api/auth/refresh",
		httpclient.WithBody(map[string]string{"refreshToken": login.Data.RefreshToken}),
	)
	mustStatus("refresh replay", resp, err, http.StatusUnauthorized)
	fmt.Println("✅ Replayed refresh token rejected")

	resp, err = httpclient.Post(ctx, base+"/api/auth/logout",
		httpclient.WithBody(map[string]string{"refreshToken": rotated.Data.RefreshToken}),
	)
	mustStatus("logout", resp, err, http.StatusNoContent)

	resp, err = httpclient.Post(ctx, base+"/api/auth/refresh",
		httpclient.WithBody(map[string]string{"refreshToken": rotated.Data.RefreshToken}),
	)
	mustStatus("refresh after logout", resp, err, http.StatusUnauthorized)
	fmt.Println("✅ Logged-out refresh token rejected")
}

func mustStatus(step string, resp *resty.Response, err error, want int) {
	if err != nil {
		log.Fatalf("❌ %s: request failed: %v", step, err)
	}
	if resp.StatusCode() != want {
		log.Fatalf("❌ %s: status %d, want %d: %s", step, resp.StatusCode(), want, resp.String())
	}
}
