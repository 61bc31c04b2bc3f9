package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"
	"github.com/learn-decentralized-systems/toyqueue"

	"github.com/zerkalo-sync/zerkalo"
	"github.com/zerkalo-sync/zerkalo/utils"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("join"),
	readline.PcItem("state"),
	readline.PcItem("patch"),
	readline.PcItem("send"),
	readline.PcItem("show"),
	readline.PcItem("leave"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// loopback plays the server side: prints every envelope and acks leave
// requests immediately.
type loopback struct {
	room *zerkalo.Room
}

func (lo *loopback) Drain(recs toyqueue.Records) error {
	for _, env := range recs {
		lit, id, payload, err := zerkalo.ParseEnvelope(env)
		if err != nil {
			return err
		}
		switch lit {
		case zerkalo.RoomDataLit:
			fmt.Printf("-> room %d: %d byte(s)\n", id, len(payload))
		case zerkalo.LeaveRoomLit:
			fmt.Printf("-> room %d: leave request, acked\n", id)
			lo.room.ConfirmLeave()
		}
	}
	return nil
}

func (lo *loopback) Close() error { return nil }

func main() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/zerkalo.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	lo := &loopback{}
	room := zerkalo.NewRoom("repl", zerkalo.RoomOptions{
		Log: utils.NewDefaultLogger(slog.LevelWarn),
		Out: lo,
	})
	lo.room = room

	room.OnJoin(func() { fmt.Printf("joined, session %s\n", room.SessionID()) })
	room.OnLeave(func() { fmt.Println("left") })
	room.OnPatch(func(ops []zerkalo.PatchOp) { fmt.Printf("patch: %d op(s)\n", len(ops)) })
	room.OnStateUpdated(func(state any, ops []zerkalo.PatchOp) {
		if doc, ok := state.(json.RawMessage); ok {
			fmt.Printf("state: %s\n", string(doc))
		}
	})

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		args := strings.SplitN(line, " ", 2)
		cmd := args[0]
		rest := ""
		if len(args) > 1 {
			rest = strings.TrimSpace(args[1])
		}
		err = nil
		switch cmd {
		case "":
		case "help":
			fmt.Println("join N | state JSON | patch OPS | send JSON | show | leave [force] | exit")
		case "join":
			id, e := strconv.Atoi(rest)
			if e != nil {
				err = e
				break
			}
			room.SetId(id)
		case "state":
			err = room.ReceiveState([]byte(rest))
		case "patch":
			var ops []zerkalo.PatchOp
			if err = json.Unmarshal([]byte(rest), &ops); err == nil {
				err = room.ApplyPatch(ops)
			}
		case "send":
			var payload any
			if err = json.Unmarshal([]byte(rest), &payload); err == nil {
				err = room.Send(payload)
			}
		case "show", "list":
			fmt.Printf("room %d (%v): %s\n", room.Id(), room.Phase(), string(room.State()))
		case "leave":
			room.Leave(rest != "force")
		case "exit", "quit":
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
}
