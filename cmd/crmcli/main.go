// cmd/crmcli/main.go - консольный клиент Trading CRM поверх SDK
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"trading-crm/pkg/notify"
	"trading-crm/pkg/session"
)

const serviceName = "trading-crm"

func main() {
	serverURL := flag.String("server", envOr("CRM_SERVER", "http://localhost:8080"), "CRM backend base URL")
	fileStore := flag.String("file-store", "", "store identities in a JSON file instead of the OS keyring")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	repo, err := openRepository(*fileStore)
	if err != nil {
		fatalf("cannot open identity storage: %v", err)
	}
	store := session.NewStore(*serverURL, repo)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		cmdLogin(ctx, store, args[1:])
	case "whoami":
		cmdWhoami(store)
	case "roles":
		cmdRoles(store)
	case "switch":
		cmdSwitch(store, args[1:])
	case "logout":
		cmdLogout(store, args[1:])
	case "impersonate":
		cmdImpersonate(ctx, store, args[1:])
	case "release":
		cmdRelease(store)
	case "notifications":
		cmdNotifications(ctx, store, *serverURL, args[1:])
	case "listen":
		cmdListen(store, *serverURL)
	default:
		fatalf("unknown command %q", args[0])
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: crmcli [flags] <command>

Commands:
  login -email E -password P   sign in; the server resolves the role
  whoami                       show the active identity
  roles                        list stored identities
  switch -role R               make another stored role active
  logout [-role R | -all]      drop one identity or all of them
  impersonate -client ID       borrow a client view (admin only)
  release                      end impersonation
  notifications [-page -limit] list notifications over REST
  listen                       stream realtime notifications

Flags:
`)
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "crmcli: "+format+"\n", args...)
	os.Exit(1)
}

func openRepository(fileStore string) (session.Repository, error) {
	if fileStore != "" {
		return session.NewFileRepository(fileStore), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return session.NewKeyringRepository(serviceName, filepath.Join(home, ".config", serviceName, "identities"))
}

func cmdLogin(ctx context.Context, store *session.Store, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	if *email == "" || *password == "" {
		fatalf("login requires -email and -password")
	}

	role, home, err := store.Login(ctx, *email, *password)
	if err != nil {
		fatalf("login failed: %v", err)
	}
	fmt.Printf("Logged in as %s (%s), home %s\n", *email, role, home)
	if store.HasMultipleRoles() {
		fmt.Printf("Stored roles: %v (use `crmcli switch`)\n", store.StoredRoles())
	}
}

func cmdWhoami(store *session.Store) {
	identity, err := store.Current()
	if err != nil {
		fatalf("cannot read session: %v", err)
	}
	if identity == nil {
		fmt.Println("Not logged in")
		return
	}

	fmt.Printf("%s %s <%s>\n", identity.FirstName, identity.LastName, identity.Email)
	fmt.Printf("Role: %s  Home: %s\n", identity.Role, identity.Role.HomeRoute())
	if store.IsImpersonated() {
		fmt.Println("(impersonated client view)")
	}
}

func cmdRoles(store *session.Store) {
	roles := store.StoredRoles()
	if len(roles) == 0 {
		fmt.Println("No stored identities")
		return
	}
	active := store.ActiveRole()
	for _, role := range roles {
		marker := "  "
		if role == active {
			marker = "* "
		}
		fmt.Printf("%s%s\n", marker, role)
	}
}

func cmdSwitch(store *session.Store, args []string) {
	fs := flag.NewFlagSet("switch", flag.ExitOnError)
	role := fs.String("role", "", "role to activate")
	fs.Parse(args)

	parsed, ok := session.ParseRole(*role)
	if !ok {
		fatalf("unknown role %q", *role)
	}

	err := store.SwitchRole(parsed, func(route string) {
		fmt.Printf("Switched to %s, home %s\n", parsed, route)
	})
	if err != nil {
		fatalf("%v", err)
	}
}

func cmdLogout(store *session.Store, args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	role := fs.String("role", "", "role to log out (default: active role)")
	all := fs.Bool("all", false, "log out every stored identity")
	fs.Parse(args)

	if *all {
		if err := store.LogoutAll(); err != nil {
			fatalf("%v", err)
		}
		fmt.Println("All identities removed")
		return
	}

	target := store.ActiveRole()
	if *role != "" {
		parsed, ok := session.ParseRole(*role)
		if !ok {
			fatalf("unknown role %q", *role)
		}
		target = parsed
	}
	if target == session.RoleNone {
		fmt.Println("Not logged in")
		return
	}

	active, err := store.Logout(target)
	if err != nil {
		fatalf("%v", err)
	}
	if active == session.RoleNone {
		fmt.Println("Logged out")
	} else {
		fmt.Printf("Logged out of %s, now active: %s\n", target, active)
	}
}

func cmdImpersonate(ctx context.Context, store *session.Store, args []string) {
	fs := flag.NewFlagSet("impersonate", flag.ExitOnError)
	clientID := fs.String("client", "", "client account id")
	fs.Parse(args)

	if *clientID == "" {
		fatalf("impersonate requires -client")
	}
	if err := store.Impersonate(ctx, *clientID); err != nil {
		fatalf("%v", err)
	}
	fmt.Println("Impersonation started, use `crmcli release` to return")
}

func cmdRelease(store *session.Store) {
	if err := store.EndImpersonation(); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Back to %s view\n", store.ActiveRole())
}

// channelForCurrent поднимает канал уведомлений под активной Identity
func channelForCurrent(store *session.Store, serverURL string) (*notify.Channel, *session.Identity) {
	identity, err := store.Current()
	if err != nil {
		fatalf("cannot read session: %v", err)
	}
	if identity == nil {
		fatalf("not logged in")
	}
	return notify.NewChannel(serverURL, notify.NewStore()), identity
}

func cmdNotifications(ctx context.Context, store *session.Store, serverURL string, args []string) {
	fs := flag.NewFlagSet("notifications", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", 20, "page size")
	fs.Parse(args)

	channel, identity := channelForCurrent(store, serverURL)

	// REST-фоллбек работает и без websocket-подключения
	if err := channel.Connect(ctx, identity.Token, identity.Role, identity.UserID); err != nil {
		logrus.WithError(err).Debug("websocket unavailable, using REST only")
	}
	defer channel.Close()

	if err := channel.Fetch(ctx, *page, *limit); err != nil {
		fatalf("%v", err)
	}

	items := channel.Store().Notifications()
	if len(items) == 0 {
		fmt.Println("No notifications")
		return
	}

	fmt.Printf("Unread: %d\n", channel.Store().UnreadCount())
	for _, n := range items {
		printNotification(n)
	}
}

func cmdListen(store *session.Store, serverURL string) {
	channel, identity := channelForCurrent(store, serverURL)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := channel.Connect(ctx, identity.Token, identity.Role, identity.UserID)
	cancel()
	if err != nil {
		fatalf("connect failed: %v", err)
	}
	defer channel.Close()

	fmt.Printf("Listening as %s (%s), Ctrl+C to stop\n", identity.Email, identity.Role)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Канал складывает события в хранилище, показываем новые id
	seen := make(map[string]bool)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, n := range channel.Store().Notifications() {
				if seen[n.ID] {
					continue
				}
				seen[n.ID] = true
				printNotification(n)
			}
		case <-quit:
			fmt.Println("\nBye")
			return
		}
	}
}

func printNotification(n notify.Notification) {
	status := " "
	if !n.Read {
		status = "*"
	}
	when := n.TimeAgo
	if when == "" {
		when = n.CreatedAt.Format("2006-01-02 15:04")
	}
	fmt.Printf("[%s] %-10s %s: %s (%s)\n", status, n.Type, n.Title, n.Message, when)
}
