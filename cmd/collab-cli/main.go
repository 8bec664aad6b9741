// Command collab-cli is a small client for the collaboration relay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/repository"
	"github.com/tacohub/collab-relay/internal/repository/postgres"
	"github.com/tacohub/collab-relay/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `collab-cli
Usage:
  collab-cli -addr ws://HOST:PORT/ws <cmd> [args]

Commands:
  version
  mint    -key <secret> -user <id> [-email e] [-ttl 1h]   (dev token, saves it)
  login   -token <jwt>                                     (saves token)
  join    -ws <id> -page <id>                              (join, then print events)
  edit    -ws <id> -page <id> [-block id] [-op update] [-content text]
  notify  -ws <id> -type <type> -message <text>
  audit   -dsn <postgres dsn> -user <id> [-limit 20]      (recent audit records)
`)
	os.Exit(2)
}

// pageRef names a page on the command line.
type pageRef struct {
	ws, page *string
}

func pageFlags(fs *flag.FlagSet) pageRef {
	return pageRef{
		ws:   fs.String("ws", "", "workspace id"),
		page: fs.String("page", "", "page id"),
	}
}

func (p pageRef) join(userID string) convert.JoinPage {
	return convert.JoinPage{WorkspaceID: *p.ws, PageID: *p.page, UserID: userID}
}

// recentAudit prints the newest audit records of userID, one JSON document each.
func recentAudit(ctx context.Context, repo repository.AuditRepository, userID string, limit int, w io.Writer) error {
	if userID == "" {
		return errors.New("need -user")
	}
	if limit <= 0 {
		limit = 20
	}
	recs, err := repo.Recent(ctx, userID, limit)
	if err != nil {
		return fmt.Errorf("recent audit of %s: %w", userID, err)
	}
	enc := json.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// buildEdit assembles a block:update payload; an empty block id gets a fresh one.
func buildEdit(workspaceID, pageID, blockID string, op model.BlockOperation, content, userID string) (model.EditMessage, error) {
	if !op.Valid() {
		return model.EditMessage{}, fmt.Errorf("unknown block operation %q", op)
	}
	if blockID == "" {
		id, err := u.NewV4()
		if err != nil {
			return model.EditMessage{}, err
		}
		blockID = id.String()
	}
	return model.EditMessage{
		MessageType: model.MessageTypeBlock,
		WorkspaceID: workspaceID,
		Operation:   op,
		UserID:      userID,
		Block: model.BlockPayload{
			ID:           blockID,
			PageID:       pageID,
			BlockType:    "paragraph",
			Content:      content,
			LastEditedBy: userID,
		},
	}, nil
}

// quiet waits d for an error event; silence means the relay accepted the request.
func quiet(c *client, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case f, ok := <-c.frames:
			if !ok {
				return c.err
			}
			if f.Event == model.EventError {
				return frameError(f)
			}
		}
	}
}

func connect(ctx context.Context, addr string) (*client, tokenFile) {
	tf, err := loadToken()
	if err != nil {
		fail(err)
	}
	c, err := dial(ctx, addr, tf.AccessToken)
	if err != nil {
		fail(err)
	}
	return c, tf
}

func main() {
	addr := flag.String("addr", "ws://localhost:3001/ws", "relay websocket URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {

	case "version":
		fmt.Printf("collab-cli %s (%s)\n", version, buildDate)

	case "mint":
		fs := flag.NewFlagSet("mint", flag.ExitOnError)
		key := fs.String("key", os.Getenv("JWT_ACCESS_SECRET"), "HS256 signing key")
		user := fs.String("user", "", "user id")
		email := fs.String("email", "", "email")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		_ = fs.Parse(args)
		if *key == "" || *user == "" {
			fmt.Fprintln(os.Stderr, "need -key and -user")
			os.Exit(1)
		}
		tok, exp, err := service.IssueToken([]byte(*key), *user, *email, *ttl)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tokenFile{AccessToken: tok, UserID: *user, ExpiresAt: exp}); err != nil {
			fail(err)
		}
		fmt.Println(tok)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "access token issued by the API")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		tf, err := inspectToken(*tok)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tf); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "join":
		fs := flag.NewFlagSet("join", flag.ExitOnError)
		ref := pageFlags(fs)
		_ = fs.Parse(args)

		c, tf := connect(ctx, *addr)
		defer c.Close()
		go func() { <-ctx.Done(); _ = c.Close() }()

		if err := c.send(model.EventPageJoin, ref.join(tf.UserID)); err != nil {
			fail(err)
		}
		for {
			f, err := c.next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fail(err)
			}
			printJSON(f)
		}

	case "edit":
		fs := flag.NewFlagSet("edit", flag.ExitOnError)
		ref := pageFlags(fs)
		block := fs.String("block", "", "block id (generated when empty)")
		op := fs.String("op", string(model.OpUpdate), "block operation")
		content := fs.String("content", "", "block content")
		_ = fs.Parse(args)

		c, tf := connect(ctx, *addr)
		defer c.Close()

		msg, err := buildEdit(*ref.ws, *ref.page, *block, model.BlockOperation(*op), *content, tf.UserID)
		if err != nil {
			fail(err)
		}
		if err := c.send(model.EventPageJoin, ref.join(tf.UserID)); err != nil {
			fail(err)
		}
		if err := quiet(c, time.Second); err != nil {
			fail(err)
		}
		if err := c.send(model.EventEditSubmit, msg); err != nil {
			fail(err)
		}
		if err := quiet(c, time.Second); err != nil {
			fail(err)
		}
		fmt.Println(msg.Block.ID)

	case "notify":
		fs := flag.NewFlagSet("notify", flag.ExitOnError)
		ws := fs.String("ws", "", "workspace id")
		typ := fs.String("type", "update", "notification type (invitation, mention, comment, update)")
		text := fs.String("message", "", "notification text")
		_ = fs.Parse(args)

		c, tf := connect(ctx, *addr)
		defer c.Close()

		if err := c.send(model.EventWorkspaceJoin, convert.JoinWorkspace{WorkspaceID: *ws, UserID: tf.UserID}); err != nil {
			fail(err)
		}
		if err := quiet(c, time.Second); err != nil {
			fail(err)
		}
		err := c.send(model.EventNotificationSend, convert.NotificationSend{
			WorkspaceID: *ws,
			UserID:      tf.UserID,
			Type:        *typ,
			Message:     *text,
		})
		if err != nil {
			fail(err)
		}
		if err := quiet(c, time.Second); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "audit":
		fs := flag.NewFlagSet("audit", flag.ExitOnError)
		dsn := fs.String("dsn", os.Getenv("AUDIT_DSN"), "audit PostgreSQL DSN")
		user := fs.String("user", "", "user id")
		limit := fs.Int("limit", 20, "max records")
		_ = fs.Parse(args)
		if *dsn == "" {
			fmt.Fprintln(os.Stderr, "need -dsn or AUDIT_DSN")
			os.Exit(1)
		}

		db, err := postgres.New(ctx, *dsn)
		if err != nil {
			fail(err)
		}
		defer db.Close()
		if err := recentAudit(ctx, postgres.NewAuditRepo(db), *user, *limit, os.Stdout); err != nil {
			fail(err)
		}

	default:
		usage()
	}
}
