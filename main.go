package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"smack-remind/client"
	"smack-remind/config"
	"smack-remind/handlers"
	"smack-remind/middleware"
	"smack-remind/notify"
	"smack-remind/remind"
	"smack-remind/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	// Shared state dir: every agent process of this account on the machine
	// opens the same sqlite file.
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatal("Failed to create state dir: ", err)
	}
	s, err := store.New(filepath.Join(cfg.StateDir, "remind.db"))
	if err != nil {
		log.Fatal("Failed to initialize state store: ", err)
	}
	defer s.Close()

	token := cfg.Token
	if token == "" {
		token, err = client.Login(cfg.ServerURL, cfg.Username, cfg.Password)
		if err != nil {
			log.Fatal("Login failed: ", err)
		}
	}

	c, err := client.Dial(cfg.ServerURL, token)
	if err != nil {
		log.Fatal("Failed to connect: ", err)
	}
	defer c.Close()

	notifier, err := notify.NewDesktop(cfg.QuietHours)
	if err != nil {
		log.Fatal("Bad notification config: ", err)
	}

	scheduler := remind.NewScheduler(c, s, notifier, cfg.InstanceID, cfg.GraceWindow)
	scheduler.Start()
	defer scheduler.Stop()

	log.Printf("Reminder agent running for %s (instance %s)", c.UserID(), cfg.InstanceID)

	if cfg.AdminSecret != "" {
		middleware.JWTSecret = []byte(cfg.AdminSecret)
		if adminToken, err := middleware.GenerateToken(c.UserID()); err == nil {
			log.Printf("Admin API token: %s", adminToken)
		}
		go serveAdmin(cfg.AdminAddr, scheduler, c)
	} else {
		log.Println("REMIND_ADMIN_SECRET not set, admin API disabled")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down")
}

func serveAdmin(addr string, scheduler *remind.Scheduler, c *client.Client) {
	reminderHandler := handlers.NewReminderHandler(scheduler, c)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/reminders", withAuth(reminderHandler.List))
	mux.HandleFunc("POST /api/reminders", withAuth(reminderHandler.Create))
	mux.HandleFunc("DELETE /api/reminders/{key}", withAuth(reminderHandler.Delete))

	log.Printf("Admin API listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Admin API stopped: %v", err)
	}
}

// withAuth wraps a handler with authentication
func withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
			return
		}

		claims, err := middleware.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := middleware.SetUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
