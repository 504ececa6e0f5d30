// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyfold/keyfold/internal/auth"
	authpg "github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/store"
)

const (
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testBaseURL    = "https://app.example.com"
)

// capturingNotifier records reset deliveries instead of sending mail.
type capturingNotifier struct {
	mu    sync.Mutex
	links []string
}

func (n *capturingNotifier) SendPasswordReset(_ context.Context, _, resetURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, resetURL)
	return nil
}

func (n *capturingNotifier) lastToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.links) == 0 {
		return ""
	}
	u, err := url.Parse(n.links[len(n.links)-1])
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}

// testEnv holds the resources shared by the integration specs.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	repo      *authpg.AccountRepository
	notifier  *capturingNotifier
	service   *auth.Service
	reset     *auth.ResetService
	linker    *auth.IdentityLinker
	issuer    *auth.TokenIssuer
}

var env *testEnv

// emailSeq makes every spec register under a fresh address so specs don't
// trip the unique constraint on each other.
var emailSeq int

func nextEmail() string {
	emailSeq++
	return fmt.Sprintf("user%d@example.com", emailSeq)
}

var _ = BeforeSuite(func() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	env = &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("keyfold_test"),
		postgres.WithUsername("keyfold"),
		postgres.WithPassword("keyfold"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	env.pool, err = store.Connect(ctx, connStr)
	Expect(err).NotTo(HaveOccurred())
	env.repo = authpg.NewAccountRepository(env.pool)

	hasher := auth.NewBcryptHasher()
	env.issuer, err = auth.NewTokenIssuer(testSigningKey)
	Expect(err).NotTo(HaveOccurred())

	env.service, err = auth.NewService(env.repo, hasher, env.issuer)
	Expect(err).NotTo(HaveOccurred())

	env.notifier = &capturingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.reset, err = auth.NewResetService(env.repo, hasher, env.notifier, testBaseURL, logger)
	Expect(err).NotTo(HaveOccurred())

	env.linker, err = auth.NewIdentityLinker(env.repo, auth.LinkerConfig{})
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env == nil {
		return
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		Expect(env.container.Terminate(env.ctx)).To(Succeed())
	}
	env.cancel()
})

var _ = Describe("Password accounts", func() {
	It("registers an account and authenticates against it", func() {
		email := nextEmail()

		account, err := env.service.Register(env.ctx, email, "Sup3rSecret!", "Integration User")
		Expect(err).NotTo(HaveOccurred())
		Expect(account.Email).NotTo(BeNil())
		Expect(*account.Email).To(Equal(email))

		session, err := env.service.Authenticate(env.ctx, email, "Sup3rSecret!")
		Expect(err).NotTo(HaveOccurred())
		Expect(session.AccountID).To(Equal(account.ID))

		verified, err := env.issuer.Verify(session.Token)
		Expect(err).NotTo(HaveOccurred())
		Expect(verified).To(Equal(account.ID))
	})

	It("rejects a duplicate registration", func() {
		email := nextEmail()

		_, err := env.service.Register(env.ctx, email, "Sup3rSecret!", "First")
		Expect(err).NotTo(HaveOccurred())

		_, err = env.service.Register(env.ctx, email, "An0therPass!", "Second")
		Expect(err).To(MatchError(ContainSubstring("already registered")))
	})

	It("rejects a wrong password", func() {
		email := nextEmail()

		_, err := env.service.Register(env.ctx, email, "Sup3rSecret!", "User")
		Expect(err).NotTo(HaveOccurred())

		_, err = env.service.Authenticate(env.ctx, email, "Wr0ngGuess!")
		Expect(err).To(MatchError(ContainSubstring("invalid email or password")))
	})
})

var _ = Describe("External identities", func() {
	It("creates an account on first sighting and reuses it afterwards", func() {
		profile := auth.Profile{Email: nextEmail(), DisplayName: "OAuth User"}

		first, err := env.linker.ResolveOrCreate(env.ctx, "google", "sub-integration-1", profile)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.PasswordHash).To(BeNil())

		second, err := env.linker.ResolveOrCreate(env.ctx, "google", "sub-integration-1", profile)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ID).To(Equal(first.ID))
	})

	It("keeps identities from different providers apart", func() {
		google, err := env.linker.ResolveOrCreate(env.ctx, "google", "sub-integration-2",
			auth.Profile{Email: nextEmail()})
		Expect(err).NotTo(HaveOccurred())

		github, err := env.linker.ResolveOrCreate(env.ctx, "github", "sub-integration-2",
			auth.Profile{Email: nextEmail()})
		Expect(err).NotTo(HaveOccurred())

		Expect(github.ID).NotTo(Equal(google.ID))
	})
})

var _ = Describe("Password reset", func() {
	It("rotates the password with a delivered token, exactly once", func() {
		email := nextEmail()

		_, err := env.service.Register(env.ctx, email, "Sup3rSecret!", "User")
		Expect(err).NotTo(HaveOccurred())

		Expect(env.reset.InitiateReset(env.ctx, email)).To(Succeed())
		token := env.notifier.lastToken()
		Expect(token).NotTo(BeEmpty())

		Expect(env.reset.CompleteReset(env.ctx, token, "Fr3shSecret!")).To(Succeed())

		_, err = env.service.Authenticate(env.ctx, email, "Sup3rSecret!")
		Expect(err).To(HaveOccurred())
		_, err = env.service.Authenticate(env.ctx, email, "Fr3shSecret!")
		Expect(err).NotTo(HaveOccurred())

		// Second use of the same token must fail
		err = env.reset.CompleteReset(env.ctx, token, "Y3tAnother!")
		Expect(err).To(MatchError(ContainSubstring("invalid or has expired")))
	})

	It("acknowledges unknown addresses without delivering anything", func() {
		before := len(env.notifier.links)
		Expect(env.reset.InitiateReset(env.ctx, "nobody@example.com")).To(Succeed())
		Expect(env.notifier.links).To(HaveLen(before))
	})
})
