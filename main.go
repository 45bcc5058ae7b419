package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/auth"
	"github.com/arcten/shellgate/internal/clusters"
	"github.com/arcten/shellgate/internal/config"
	"github.com/arcten/shellgate/internal/database"
	"github.com/arcten/shellgate/internal/handlers"
	"github.com/arcten/shellgate/internal/logging"
	"github.com/arcten/shellgate/internal/middleware"
	"github.com/arcten/shellgate/internal/session"
	"github.com/arcten/shellgate/internal/sshgate"
	"github.com/arcten/shellgate/internal/sshkeys"
	"github.com/arcten/shellgate/internal/terminal"
	"github.com/arcten/shellgate/internal/usage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCreateUser()
			return
		case "--add-cluster":
			runAddCluster()
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	registry := session.NewRegistry(config.TTL(), config.Cfg.MaxSessions)
	resolver := clusters.NewResolver()
	recorder := usage.LogRecorder{}
	sessionStore := auth.NewSessionStore()

	log.Printf("Config: ttl=%s max_sessions=%d driver=%s",
		config.TTL(), config.Cfg.MaxSessions, config.Cfg.TerminalDriver)

	// Wire the web front door collaborators.
	handlers.SessionStore = sessionStore
	handlers.Registry = registry
	handlers.Resolver = resolver
	handlers.Recorder = recorder
	handlers.Authz = &access.Ownership{Owner: resolver.Owner}
	handlers.OpenTerminal = terminalOpener()

	// SSH front door, enabled when a key table is configured.
	var gate *sshgate.Server
	if config.Cfg.ProxyACLPath != "" {
		keys, err := access.LoadKeyTable(config.Cfg.ProxyACLPath)
		if err != nil {
			log.Fatalf("Key table: %v", err)
		}
		hostKey, err := sshkeys.EnsureHostKey(config.Cfg.DataPath)
		if err != nil {
			log.Fatalf("Host key: %v", err)
		}
		gate = sshgate.New(hostKey, keys, resolver, registry, recorder)
		if err := gate.Listen(config.Cfg.SSHAddr); err != nil {
			log.Fatalf("SSH listener: %v", err)
		}
	} else {
		log.Printf("SSH front door disabled (no key table configured)")
	}

	// Background sweeps: expired terminal sessions and stale logins.
	// The per-session watchdog already guarantees TTL enforcement; the
	// sweep keeps the registry tidy when watchdogs and attach checks
	// race around the same deadline.
	c := cron.New()
	c.AddFunc("@every 1m", func() {
		if n := registry.Sweep(); n > 0 {
			log.Printf("Swept %d expired terminal sessions", n)
		}
	})
	c.AddFunc("@every 10m", sessionStore.Cleanup)
	c.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", handlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			r.Get("/clusters", handlers.ListClusters)
			r.Post("/clusters", handlers.RegisterCluster)
			r.Get("/clusters/{id}", handlers.GetCluster)
			r.Delete("/clusters/{id}", handlers.DeleteCluster)

			r.Get("/clusters/{id}/terminal/session", handlers.MintTerminalSession)
			r.Get("/clusters/{id}/terminal", handlers.TerminalWS)
			r.Get("/clusters/{id}/terminal/sessions", handlers.ListTerminalSessions)
			r.Delete("/clusters/{id}/terminal/sessions/{sessionId}", handlers.CloseTerminalSession)
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.HTTPAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	c.Stop()
	if gate != nil {
		gate.Close()
	}
	registry.DestroyAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// terminalOpener returns the target driver selected by config: the
// in-process SSH client, or an ssh subprocess on a local PTY.
func terminalOpener() func(params *clusters.ConnParams) (terminal.Terminal, error) {
	if config.Cfg.TerminalDriver != "exec" {
		return func(params *clusters.ConnParams) (terminal.Terminal, error) {
			return terminal.DialSSH(params)
		}
	}

	identityDir := config.Cfg.DataPath + "/identities"
	sshPath := config.Cfg.SSHClientPath
	return func(params *clusters.ConnParams) (terminal.Terminal, error) {
		keyFile, err := params.WriteIdentityFile(identityDir)
		if err != nil {
			return nil, err
		}
		cmd := terminal.SSHCommand(sshPath, params.User, params.Host, params.Port, keyFile)
		return terminal.StartCommand(cmd)
	}
}

func runCreateUser() {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	org := fs.String("org", "default", "Organization name")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: shellgate --create-admin --username <user> --password <pass> [--org <name>]")
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	organization, err := database.GetOrCreateOrganization(*org)
	if err != nil {
		log.Fatalf("Failed to resolve organization: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	user := &database.User{
		Username:       *username,
		PasswordHash:   hash,
		Role:           "admin",
		OrganizationID: organization.ID,
	}
	if err := database.CreateUser(user); err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}
	fmt.Printf("User '%s' created in organization '%s'.\n", *username, *org)
}

func runAddCluster() {
	fs := flag.NewFlagSet("add-cluster", flag.ExitOnError)
	name := fs.String("name", "", "Cluster name")
	host := fs.String("host", "", "SSH host")
	port := fs.Int("port", 22, "SSH port")
	sshUser := fs.String("user", "root", "SSH user")
	keyFile := fs.String("key", "", "Private key file (PEM)")
	owner := fs.String("owner", "", "Owning username")
	fs.Parse(os.Args[2:])

	if *name == "" || *host == "" || *keyFile == "" || *owner == "" {
		fmt.Fprintln(os.Stderr, "Usage: shellgate --add-cluster --name <name> --host <host> --key <pem-file> --owner <username> [--port N] [--user u]")
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	keyPEM, err := os.ReadFile(*keyFile)
	if err != nil {
		log.Fatalf("Failed to read key file: %v", err)
	}

	u, err := database.GetUserByUsername(*owner)
	if err != nil {
		log.Fatalf("Owner '%s' not found", *owner)
	}

	c, err := clusters.Register(*name, *host, *port, *sshUser, keyPEM,
		access.Identity{UserID: u.ID, OrgID: u.OrganizationID})
	if err != nil {
		log.Fatalf("Failed to register cluster: %v", err)
	}
	fmt.Printf("Cluster '%s' (id %d) registered for %s.\n", c.Name, c.ID, *owner)
}
