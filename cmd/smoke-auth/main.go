// Command smoke-auth exercises the register/login/me/logout flow against a
// running server. Exit code 0 means the auth surface works end to end.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"
)

func main() {
	base := os.Getenv("GOLDILOCKS_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookiejar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	suffix := rand.New(rand.NewSource(time.Now().UnixNano())).Int31()
	email := fmt.Sprintf("smoke-%d@example.com", suffix)
	username := fmt.Sprintf("smoke%d", suffix)
	password := "smoke-test-password"

	status, _ := post(client, base+"/v1/auth/register", map[string]any{
		"email":    email,
		"username": username,
		"password": password,
	})
	if status != http.StatusCreated {
		log.Fatalf("register: unexpected status %d", status)
	}

	status, _ = post(client, base+"/v1/auth/login", map[string]any{
		"identifier": username,
		"password":   password,
	})
	if status != http.StatusOK {
		log.Fatalf("login: unexpected status %d", status)
	}

	resp, err := client.Get(base + "/v1/auth/me")
	if err != nil {
		log.Fatalf("me: %v", err)
	}
	var me struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		log.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || me.User.Username != username {
		log.Fatalf("me: status=%d username=%q", resp.StatusCode, me.User.Username)
	}

	status, _ = post(client, base+"/v1/auth/logout", map[string]any{})
	if status != http.StatusOK {
		log.Fatalf("logout: unexpected status %d", status)
	}

	resp, err = client.Get(base + "/v1/auth/me")
	if err != nil {
		log.Fatalf("me after logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		log.Fatalf("me after logout: expected 401, got %d", resp.StatusCode)
	}

	fmt.Printf("auth smoke test passed: user=%s\n", username)
}

func post(client *http.Client, url string, body any) (int, []byte) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes()
}
