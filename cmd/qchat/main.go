package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"qchat/internal/chat"
	"qchat/internal/client"
	"qchat/internal/store"
	"qchat/pkg/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		userID   = flag.String("id", "", "user id to authenticate as")
		username = flag.String("name", "", "display name (defaults to id)")
		relays   = flag.String("relay", "ws://127.0.0.1:8080/ws", "comma-separated relay endpoints")
		dataDir  = flag.String("data", defaultDataDir(), "local data directory")
		logLevel = flag.String("log", "warn", "log level")
	)
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("-id is required")
	}
	if *username == "" {
		*username = *userID
	}
	log := newLogger(*logLevel)

	dir := filepath.Join(*dataDir, *userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	messages, err := store.OpenSQLite(filepath.Join(dir, "messages.db"), log)
	if err != nil {
		return err
	}
	defer func() { _ = messages.Close() }()

	contacts, err := store.OpenKV(filepath.Join(dir, "kv"), log)
	if err != nil {
		return err
	}
	defer func() { _ = contacts.Close() }()

	self := protocol.Contact{ID: *userID, Username: *username}
	presence := chat.NewPresenceCache(func(peerID, status string) {
		fmt.Printf("* %s is now %s\n", peerID, strings.ToLower(status))
	})

	var messenger *chat.Messenger
	session := client.NewSession(client.Config{
		Endpoints: strings.Split(*relays, ","),
		Logger:    log,
	}, client.Handlers{
		OnState: func(state client.State, reason error) {
			if reason != nil {
				fmt.Printf("* session %s (%v)\n", strings.ToLower(string(state)), reason)
				return
			}
			fmt.Printf("* session %s\n", strings.ToLower(string(state)))
		},
		OnFrame: func(f *protocol.Frame) { messenger.HandleFrame(f) },
		OnPresence: func(peerID, status string) {
			// The relay echoes our own online broadcast; skip it.
			if peerID != *userID {
				presence.Apply(peerID, status)
			}
		},
		OnOnlineUsers: presence.SetSnapshot,
	})
	defer session.Disconnect()

	messenger = chat.NewMessenger(self, session, messages, contacts, chat.Events{
		OnMessage: func(m *protocol.Message) {
			fmt.Printf("%s> %s\n", m.SenderID, m.Content)
		},
		OnFriendRequest: func(r *protocol.FriendRequestPayload) {
			fmt.Printf("* friend request from %s (%s); /accept %s\n", r.FromUser.Username, r.FromUser.ID, r.FromUser.ID)
		},
		OnFriendAccept: func(c *protocol.Contact) {
			fmt.Printf("* %s accepted your friend request\n", c.Username)
		},
		OnFriendRemove: func(peerID string) {
			fmt.Printf("* %s removed you\n", peerID)
		},
	}, log)

	if err := session.Connect(context.Background(), *userID); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	fmt.Println("connected; /help for commands")
	return repl(messenger, presence)
}

func repl(messenger *chat.Messenger, presence *chat.PresenceCache) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/help":
			fmt.Println("/msg <id> <text>  /history <id>  /friends  /requests  /add <id>  /accept <id>  /remove <id>  /online  /quit")
		case "/msg":
			peer, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /msg <id> <text>")
				continue
			}
			_, err = messenger.SendText(peer, text)
		case "/history":
			err = printHistory(messenger, rest)
		case "/friends":
			err = printContacts(messenger, presence)
		case "/requests":
			err = printRequests(messenger)
		case "/add":
			err = messenger.SendFriendRequest(rest)
		case "/accept":
			err = messenger.AcceptFriendRequest(rest)
		case "/remove":
			err = messenger.RemoveFriend(rest)
		case "/online":
			fmt.Println(strings.Join(presence.Online(), ", "))
		case "/quit":
			return nil
		default:
			fmt.Println("unknown command; /help")
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return scanner.Err()
}

func printHistory(messenger *chat.Messenger, peerID string) error {
	conversations, err := messenger.Conversations()
	if err != nil {
		return err
	}
	for _, conv := range conversations {
		if conv.ParticipantID != peerID {
			continue
		}
		history, err := messenger.History(conv.ID)
		if err != nil {
			return err
		}
		for _, m := range history {
			fmt.Printf("[%s] %s: %s (%s)\n", m.Time().Format("15:04"), m.SenderID, m.Content, m.Status)
		}
		return messenger.MarkRead(conv.ID)
	}
	fmt.Println("no conversation with", peerID)
	return nil
}

func printContacts(messenger *chat.Messenger, presence *chat.PresenceCache) error {
	contacts, err := messenger.Contacts()
	if err != nil {
		return err
	}
	for _, c := range contacts {
		state := "offline"
		if presence.IsOnline(c.ID) {
			state = "online"
		}
		fmt.Printf("%s (%s) %s\n", c.Username, c.ID, state)
	}
	return nil
}

func printRequests(messenger *chat.Messenger) error {
	pending, err := messenger.FriendRequests()
	if err != nil {
		return err
	}
	for _, r := range pending {
		fmt.Printf("%s (%s)\n", r.FromUser.Username, r.FromUser.ID)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qchat"
	}
	return filepath.Join(home, ".qchat")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
