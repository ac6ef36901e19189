// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

type response struct {
	status int
	body   map[string]any
}

func (r response) errorMessage() string {
	msg, _ := r.body["error"].(string)
	return msg
}

func (r response) token() string {
	token, _ := r.body["token"].(string)
	return token
}

func do(method, path, bearer string, payload any) response {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	out := response{status: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		Expect(json.Unmarshal(raw, &out.body)).To(Succeed())
	}
	return out
}

func post(path string, payload any) response {
	return do(http.MethodPost, path, "", payload)
}

func register(email, password string) response {
	return post("/auth/register", map[string]string{"name": "Ada", "email": email, "password": password})
}

var _ = Describe("Auth API against PostgreSQL", func() {
	BeforeEach(func() {
		cleanupUsers()
	})

	Describe("registration", func() {
		It("returns the user and a session token that opens /auth/me", func() {
			resp := register("ada@example.com", "password123")
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.token()).NotTo(BeEmpty())

			user, ok := resp.body["user"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(user).To(HaveKeyWithValue("email", "ada@example.com"))
			Expect(user).NotTo(HaveKey("password_hash"))

			me := do(http.MethodGet, "/auth/me", resp.token(), nil)
			Expect(me.status).To(Equal(http.StatusOK))
			Expect(me.body["user"]).To(HaveKeyWithValue("id", user["id"]))
		})

		It("rejects a duplicate email", func() {
			Expect(register("ada@example.com", "password123").status).To(Equal(http.StatusOK))

			resp := register("ada@example.com", "another-password")
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessage()).To(Equal("registration failed"))
		})

		It("creates exactly one user under concurrent registration", func() {
			var wg sync.WaitGroup
			statuses := make([]int, 6)
			for i := range statuses {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					statuses[i] = register("race@example.com", "password123").status
				}(i)
			}
			wg.Wait()

			Expect(statuses).To(ContainElement(http.StatusOK))
			ok := 0
			for _, s := range statuses {
				if s == http.StatusOK {
					ok++
				}
			}
			Expect(ok).To(Equal(1))

			var count int
			Expect(env.pool.QueryRow(env.ctx, "SELECT count(*) FROM users").Scan(&count)).To(Succeed())
			Expect(count).To(Equal(1))
		})

		It("stores only the password hash", func() {
			Expect(register("ada@example.com", "password123").status).To(Equal(http.StatusOK))

			var hash string
			Expect(env.pool.QueryRow(env.ctx,
				"SELECT password_hash FROM users WHERE email = $1", "ada@example.com").Scan(&hash)).To(Succeed())
			Expect(hash).To(HavePrefix("$argon2id$"))
			Expect(hash).NotTo(ContainSubstring("password123"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			Expect(register("ada@example.com", "password123").status).To(Equal(http.StatusOK))
		})

		It("accepts the right password", func() {
			resp := post("/auth/authenticate", map[string]string{"email": "ada@example.com", "password": "password123"})
			Expect(resp.status).To(Equal(http.StatusOK))
			Expect(resp.token()).NotTo(BeEmpty())
		})

		It("gives the same answer for a wrong password and an unknown email", func() {
			wrong := post("/auth/authenticate", map[string]string{"email": "ada@example.com", "password": "wrong-password"})
			unknown := post("/auth/authenticate", map[string]string{"email": "nobody@example.com", "password": "password123"})

			Expect(wrong.status).To(Equal(http.StatusBadRequest))
			Expect(unknown.status).To(Equal(http.StatusBadRequest))
			Expect(wrong.errorMessage()).To(Equal(unknown.errorMessage()))
		})
	})

	Describe("password reset", func() {
		BeforeEach(func() {
			Expect(register("ada@example.com", "old-password").status).To(Equal(http.StatusOK))
		})

		It("replaces the password and consumes the token", func() {
			Expect(post("/auth/forgot_password", map[string]string{"email": "ada@example.com"}).status).
				To(Equal(http.StatusOK))
			token := env.outbox.lastToken()

			var stored string
			Expect(env.pool.QueryRow(env.ctx,
				"SELECT password_reset_token_hash FROM users WHERE email = $1", "ada@example.com").Scan(&stored)).To(Succeed())
			Expect(stored).NotTo(Equal(token))

			reset := post("/auth/reset_password", map[string]string{
				"email": "ada@example.com", "token": token, "password": "new-password",
			})
			Expect(reset.status).To(Equal(http.StatusOK))

			Expect(post("/auth/authenticate", map[string]string{"email": "ada@example.com", "password": "new-password"}).status).
				To(Equal(http.StatusOK))
			Expect(post("/auth/authenticate", map[string]string{"email": "ada@example.com", "password": "old-password"}).status).
				To(Equal(http.StatusBadRequest))

			replay := post("/auth/reset_password", map[string]string{
				"email": "ada@example.com", "token": token, "password": "attacker-pass",
			})
			Expect(replay.status).To(Equal(http.StatusBadRequest))
			Expect(replay.errorMessage()).To(Equal("invalid reset token"))

			var pending *string
			Expect(env.pool.QueryRow(env.ctx,
				"SELECT password_reset_token_hash FROM users WHERE email = $1", "ada@example.com").Scan(&pending)).To(Succeed())
			Expect(pending).To(BeNil())
		})

		It("reports an expired token", func() {
			Expect(post("/auth/forgot_password", map[string]string{"email": "ada@example.com"}).status).
				To(Equal(http.StatusOK))
			token := env.outbox.lastToken()

			_, err := env.pool.Exec(env.ctx,
				"UPDATE users SET password_reset_expires_at = $2 WHERE email = $1",
				"ada@example.com", time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())

			resp := post("/auth/reset_password", map[string]string{
				"email": "ada@example.com", "token": token, "password": "new-password",
			})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessage()).To(Equal("reset token expired, generate a new token"))
		})

		It("invalidates an earlier token when a new one is requested", func() {
			Expect(post("/auth/forgot_password", map[string]string{"email": "ada@example.com"}).status).To(Equal(http.StatusOK))
			first := env.outbox.lastToken()
			Expect(post("/auth/forgot_password", map[string]string{"email": "ada@example.com"}).status).To(Equal(http.StatusOK))
			second := env.outbox.lastToken()

			resp := post("/auth/reset_password", map[string]string{
				"email": "ada@example.com", "token": first, "password": "new-password",
			})
			Expect(resp.status).To(Equal(http.StatusBadRequest))

			resp = post("/auth/reset_password", map[string]string{
				"email": "ada@example.com", "token": second, "password": "new-password",
			})
			Expect(resp.status).To(Equal(http.StatusOK))
		})

		It("fails for an unknown email without sending mail", func() {
			resp := post("/auth/forgot_password", map[string]string{"email": "ghost@example.com"})
			Expect(resp.status).To(Equal(http.StatusBadRequest))
			Expect(resp.errorMessage()).To(Equal("cannot send forgot password email"))
			Expect(env.outbox.sent).To(BeEmpty())
		})
	})
})
