// ABOUTME: Operator CLI for presence-gateway
// ABOUTME: Shows who is online, reads the support inbox and sends notifications over the REST API

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
                                                       _           _
 _ __  _ __ ___  ___  ___ _ __   ___ ___        __ _  __| |_ __ ___ (_)_ __
| '_ \| '__/ _ \/ __|/ _ \ '_ \ / __/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
| |_) | | |  __/\__ \  __/ | | | (_|  __/_____| (_| | (_| | | | | | | | | | |
| .__/|_|  \___||___/\___|_| |_|\___\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
|_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("PRESENCE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := newAPIClient(baseURL, getToken())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "online":
		err = cmdOnline(ctx, os.Stdout, client)
	case "inbox":
		err = cmdInbox(ctx, os.Stdout, client)
	case "history":
		err = cmdHistory(ctx, os.Stdout, client, args)
	case "notifications":
		err = cmdNotifications(ctx, os.Stdout, client, args)
	case "broadcast":
		err = cmdBroadcast(ctx, os.Stdout, client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: presence-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  online                              Show online identities per hub")
	fmt.Println("  inbox                               List conversations with unread counts")
	fmt.Println("  history <user> [--mark-read]        Show a conversation")
	fmt.Println("  notifications [--status S]          List your notifications (unread|read)")
	fmt.Println("  notifications read <id>             Mark a notification read")
	fmt.Println("  notifications delete <id>           Delete a notification")
	fmt.Println("  broadcast <title> <msg> [--user ID] Notify everyone online, or one user")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PRESENCE_URL      Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  PRESENCE_TOKEN    JWT token (default: ~/.config/presence/token)")
	fmt.Println()
}

// getToken returns PRESENCE_TOKEN or the token file written by bootstrap.
func getToken() string {
	if token := os.Getenv("PRESENCE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "presence", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func cmdOnline(ctx context.Context, out io.Writer, c *apiClient) error {
	p, err := c.Presence(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	for _, section := range []struct {
		name string
		ids  []string
	}{
		{"Chat", p.Chat},
		{"Notifications", p.Notifications},
	} {
		cyan.Fprintf(out, "  %s (%d)\n", section.name, len(section.ids))
		for _, id := range section.ids {
			green.Fprint(out, "    ● ")
			fmt.Fprintln(out, id)
		}
	}
	return nil
}

func cmdInbox(ctx context.Context, out io.Writer, c *apiClient) error {
	list, err := c.Counterparts(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "  No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  USER\tONLINE\tUNREAD\tLAST\tAT")
	fmt.Fprintln(w, "  ----\t------\t------\t----\t--")
	for _, cp := range list {
		online := "no"
		if cp.Online {
			online = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\n",
			truncate(cp.Identity, 24), online, cp.UnreadCount,
			truncate(cp.LastMessage, 40), cp.LastMessageAt.Local().Format("Jan 02 15:04"))
	}
	return w.Flush()
}

func cmdHistory(ctx context.Context, out io.Writer, c *apiClient, args []string) error {
	var user string
	markRead := false
	for _, arg := range args {
		switch {
		case arg == "--mark-read":
			markRead = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		case user == "":
			user = arg
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if user == "" {
		return fmt.Errorf("usage: history <user> [--mark-read]")
	}

	msgs, err := c.History(ctx, user)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if len(msgs) == 0 {
		fmt.Fprintln(out, "  No messages.")
	}
	for _, m := range msgs {
		gray.Fprintf(out, "  %s ", m.SentAt.Local().Format("Jan 02 15:04"))
		if m.IsFromAdmin {
			cyan.Fprintf(out, "%s: ", m.SenderID)
		} else {
			yellow.Fprintf(out, "%s: ", m.SenderID)
		}
		fmt.Fprintln(out, m.Body)
	}

	if markRead {
		if err := c.MarkConversationRead(ctx, user); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintln(out, "  ✓ Marked read")
	}
	return nil
}

func cmdNotifications(ctx context.Context, out io.Writer, c *apiClient, args []string) error {
	if len(args) > 0 && (args[0] == "read" || args[0] == "delete") {
		if len(args) != 2 {
			return fmt.Errorf("usage: notifications %s <id>", args[0])
		}
		var err error
		if args[0] == "read" {
			err = c.MarkNotificationRead(ctx, args[1])
		} else {
			err = c.DeleteNotification(ctx, args[1])
		}
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(out, "  ✓ %s %s\n", args[0], args[1])
		return nil
	}

	var status string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--status" || args[i] == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--status requires a value")
			}
			status = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--status="):
			status = strings.TrimPrefix(args[i], "--status=")
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	list, err := c.Notifications(ctx, status)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "  No notifications.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSTATUS\tTITLE\tMESSAGE\tCREATED")
	fmt.Fprintln(w, "  --\t------\t-----\t-------\t-------")
	for _, n := range list {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Status, truncate(n.Title, 30), truncate(n.Message, 40),
			n.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	return w.Flush()
}

func cmdBroadcast(ctx context.Context, out io.Writer, c *apiClient, args []string) error {
	var req broadcastRequest
	var positional []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--user" || args[i] == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			req.UserID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--user="):
			req.UserID = strings.TrimPrefix(args[i], "--user=")
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) != 2 {
		return fmt.Errorf("usage: broadcast <title> <message> [--user ID]")
	}
	req.Title, req.Message = positional[0], positional[1]

	resp, err := c.Broadcast(ctx, req)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if req.UserID != "" {
		id := ""
		if resp.Notification != nil {
			id = resp.Notification.ID
		}
		green.Fprintf(out, "  ✓ Sent to %s (%d live channels, id %s)\n", req.UserID, resp.Sent, id)
		return nil
	}
	green.Fprintf(out, "  ✓ Broadcast to %d channels\n", resp.Sent)
	return nil
}
