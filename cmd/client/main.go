// Command client is a line-oriented CLI host driving one
// replica.Replica against cmd/server, exercising section 6's command
// surface: local_insert, local_delete, apply_inbound (fed from
// the websocket), report_cursor, tick (on a timer), and gc. The
// text-editing view itself is out of scope per section 1, so this host
// is deliberately a scriptable REPL rather than a full-screen editor
// widget.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/inkline-collab/inkline/corelog"
	"github.com/inkline-collab/inkline/envelope"
	"github.com/inkline-collab/inkline/replica"
	"github.com/inkline-collab/inkline/store"
	"github.com/inkline-collab/inkline/store/bolt"
	"github.com/inkline-collab/inkline/transport/ws"
)

// flags holds the CLI's command-line options: the server to dial, the
// document to join, this replica's site id, and an optional local bolt
// path.
type flags struct {
	Server string
	Doc    string
	Site   string
	Secure bool
	Debug  bool
	Bolt   string
}

func parseFlags() flags {
	server := flag.String("server", "localhost:9000", "server network address")
	doc := flag.String("doc", "default", "document id to join")
	site := flag.String("site", "", "this replica's site id (random if empty)")
	secure := flag.Bool("secure", false, "use a secure websocket connection (wss://)")
	debug := flag.Bool("debug", false, "enable verbose debug logging")
	boltPath := flag.String("store", "", "bbolt file to persist the document to (disabled if empty)")
	flag.Parse()
	return flags{
		Server: *server,
		Doc:    *doc,
		Site:   *site,
		Secure: *secure,
		Debug:  *debug,
		Bolt:   *boltPath,
	}
}

func randomSite() string {
	return fmt.Sprintf("site-%d", time.Now().UnixNano()%1_000_000)
}

func main() {
	f := parseFlags()
	if f.Site == "" {
		f.Site = randomSite()
	}

	logger, closers, err := corelog.New(corelog.Options{Dir: ".", Name: "inkline-client-" + f.Site, Debug: f.Debug})
	if err != nil {
		color.Red("failed to set up logging: %v", err)
		os.Exit(1)
	}
	defer corelog.Close(logger, closers)

	var docs store.DocumentStore
	if f.Bolt != "" {
		b, err := bolt.Open(f.Bolt)
		if err != nil {
			color.Red("failed to open store: %v", err)
			os.Exit(1)
		}
		docs = b
		defer b.Close()
	}

	scheme := "ws"
	if f.Secure {
		scheme = "wss"
	}
	addr := fmt.Sprintf("%s://%s/ws/%s", scheme, f.Server, f.Doc)

	color.Green("connecting to %s as %s\n", addr, f.Site)
	conn, err := ws.Dial(context.Background(), addr)
	if err != nil {
		color.Red("connection error, exiting: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	rep := replica.New(replica.Options{
		Site:   f.Site,
		Logger: logger,
		Callbacks: replica.Callbacks{
			OnLocalOperation: func(env envelope.Envelope) {
				data, err := envelope.Marshal(env)
				if err != nil {
					logger.WithError(err).Error("client: marshaling outbound envelope")
					return
				}
				if err := conn.Send(context.Background(), data); err != nil {
					logger.WithError(err).Warn("client: sending envelope")
				}
			},
			OnRemoteApplied: func(op replica.Operation) {
				color.Cyan("remote edit applied (position %d)\n", op.Position)
			},
			OnCursorUpdated: func(site string, position uint32, _ *[2]uint32) {
				color.Yellow("%s's cursor is now at %d\n", site, position)
			},
			OnPeerJoin: func(site string) {
				color.Green("%s joined\n", site)
			},
			OnPeerLeave: func(site string) {
				color.Magenta("%s left\n", site)
			},
			OnDeliveryFailed: func(messageID string) {
				color.Red("delivery failed for message %s\n", messageID)
			},
		},
	})

	if docs != nil {
		if snap, err := docs.Load(context.Background(), f.Doc); err == nil {
			rep.Restore(snap.Records, snap.Clock)
			color.Green("restored %d characters from %s\n", len(snap.Records), f.Bolt)
		}
	}

	go readInbound(rep, conn)
	go tickLoop(rep, conn)

	color.Yellow("type text to append, or a command: :d <pos>, :text, :gc <keep>, :cursor <pos>, :quit\n")
	repl(rep, conn, docs, f.Doc)
}

func readInbound(rep *replica.Replica, conn *ws.Client) {
	for data := range conn.Inbound() {
		if _, err := rep.ApplyInbound(data); err != nil {
			color.Red("apply_inbound error: %v\n", err)
		}
	}
}

func tickLoop(rep *replica.Replica, conn *ws.Client) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for now := range ticker.C {
		for _, env := range rep.Tick(now) {
			data, err := envelope.Marshal(env)
			if err != nil {
				continue
			}
			_ = conn.Send(context.Background(), data)
		}
	}
}

// repl is a minimal line-oriented editor: each line of plain text is
// appended at the end of the document; lines beginning with ":" are
// commands.
func repl(rep *replica.Replica, conn *ws.Client, docs store.DocumentStore, docID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == ":quit":
			if docs != nil {
				snap := store.Snapshot{DocID: docID, Records: rep.Document(), Clock: rep.Clock()}
				if err := docs.Save(context.Background(), snap); err != nil {
					color.Red("failed to persist on exit: %v\n", err)
				}
			}
			return

		case line == ":text":
			fmt.Println(rep.Text())

		case strings.HasPrefix(line, ":d "):
			pos, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":d ")))
			if err != nil {
				color.Red("usage: :d <pos>\n")
				continue
			}
			if _, _, ok := rep.LocalDelete(pos); !ok {
				color.Red("nothing to delete at %d\n", pos)
			}

		case strings.HasPrefix(line, ":gc "):
			keep, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":gc ")))
			if err != nil {
				color.Red("usage: :gc <keep>\n")
				continue
			}
			if err := rep.GC(keep); err != nil {
				color.Red("gc refused: %v\n", err)
			}

		case strings.HasPrefix(line, ":cursor "):
			pos, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":cursor ")))
			if err != nil {
				color.Red("usage: :cursor <pos>\n")
				continue
			}
			env, err := rep.ReportCursor(uint32(pos), nil)
			if err != nil {
				color.Red("failed to report cursor: %v\n", err)
				continue
			}
			data, err := envelope.Marshal(env)
			if err != nil {
				color.Red("failed to encode cursor report: %v\n", err)
				continue
			}
			if err := conn.Send(context.Background(), data); err != nil {
				color.Red("failed to send cursor report: %v\n", err)
			}

		default:
			pos := len([]rune(rep.Text()))
			for _, r := range line + "\n" {
				if _, _, err := rep.LocalInsert(pos, r); err != nil {
					color.Red("insert error: %v\n", err)
					break
				}
				pos++
			}
		}
	}
}
