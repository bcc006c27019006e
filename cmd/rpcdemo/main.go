// Command rpcdemo is a two-role example of an rtipc region: a server that
// creates the region and exposes a command/response/event channel set,
// and a client that attaches to it over a Unix socket fd handoff. It is
// illustration, not part of the library surface — see
// github.com/AlephTX/rtipc/internal/fdsock and
// github.com/AlephTX/rtipc/internal/democonfig for the supporting pieces.
//
// Mirrors mausys/rtipc's examples/rpc.rs client/server pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlephTX/rtipc"
	"github.com/AlephTX/rtipc/channel"
	"github.com/AlephTX/rtipc/internal/democonfig"
	"github.com/AlephTX/rtipc/internal/fdsock"
)

// CommandID names the operations the client can ask the server to run.
type CommandID uint32

const (
	CommandHello CommandID = iota
	CommandStop
	CommandSendEvent
	CommandDiv
	CommandUnknown
)

// Command is sent from the client to the server over the command channel.
type Command struct {
	ID   CommandID
	Args [3]int32
}

func (c Command) String() string {
	return fmt.Sprintf("id: %d\n\targs: %v", c.ID, c.Args)
}

// Response is sent from the server to the client over the response channel.
type Response struct {
	ID     CommandID
	Result int32
	Data   int32
}

func (r Response) String() string {
	return fmt.Sprintf("id: %d\n\tresult: %d\n\tdata: %d", r.ID, r.Result, r.Data)
}

// Event is sent from the server to the client over the event channel, in
// response to a CommandSendEvent.
type Event struct {
	ID uint32
	Nr uint32
}

func (e Event) String() string {
	return fmt.Sprintf("id: %d\n\tnr: %d", e.ID, e.Nr)
}

func main() {
	mode := flag.String("mode", "", "server or client")
	cfgPath := flag.String("config", "rpcdemo.toml", "channel layout config")
	flag.Parse()

	if p := os.Getenv("RTIPC_DEMO_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := democonfig.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "server":
		if err := runServer(ctx, cfg); err != nil && err != context.Canceled {
			log.Fatalf("server: %v", err)
		}
	case "client":
		if err := runClient(ctx, cfg); err != nil && err != context.Canceled {
			log.Fatalf("client: %v", err)
		}
	default:
		log.Fatal("must pass -mode=server or -mode=client")
	}
}

func toChannelParams(specs []democonfig.ChannelSpec) []rtipc.ChannelParam {
	out := make([]rtipc.ChannelParam, len(specs))
	for i, s := range specs {
		out[i] = rtipc.ChannelParam{AddMsgs: s.AddMsgs, MsgSize: s.MsgSize}
	}
	return out
}

func runServer(ctx context.Context, cfg *democonfig.Config) error {
	consumers := toChannelParams(cfg.Commands)
	producers := append(toChannelParams(cfg.Responses), toChannelParams(cfg.Events)...)

	ipc, err := rtipc.NewAnonShm(consumers, producers, cfg.Cookie)
	if err != nil {
		return fmt.Errorf("new shm: %w", err)
	}
	defer ipc.Close()

	command, err := rtipc.TakeConsumer[Command](ipc, 0)
	if err != nil {
		return fmt.Errorf("take command consumer: %w", err)
	}
	response, err := rtipc.TakeProducer[Response](ipc, 0)
	if err != nil {
		return fmt.Errorf("take response producer: %w", err)
	}
	event, err := rtipc.TakeProducer[Event](ipc, 1)
	if err != nil {
		return fmt.Errorf("take event producer: %w", err)
	}

	log.Printf("rpcdemo server: region ready, fd %d, handoff at %s", ipc.Fd(), cfg.SockPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fdsock.Listen(cfg.SockPath, ipc.Fd(), []byte("rtipc"))
	})
	g.Go(func() error {
		return serveCommands(gctx, command, response, event)
	})

	return g.Wait()
}

func serveCommands(ctx context.Context, command *rtipc.Consumer[Command], response *rtipc.Producer[Response], event *rtipc.Producer[Event]) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if command.FetchTail() != channel.FetchNew {
				continue
			}

			cmd := *command.Msg()
			log.Printf("server received command: %s", cmd)

			rsp := Response{ID: cmd.ID}
			switch cmd.ID {
			case CommandHello:
				rsp.Result = 0
			case CommandStop:
				*response.Msg() = rsp
				response.ForcePut()
				return nil
			case CommandSendEvent:
				rsp.Result = sendEvents(event, uint32(cmd.Args[0]), uint32(cmd.Args[1]), cmd.Args[2] != 0)
			case CommandDiv:
				data, code := div(cmd.Args[0], cmd.Args[1])
				rsp.Data = data
				rsp.Result = code
			default:
				log.Println("server: unknown command")
				rsp.Result = -1
			}

			*response.Msg() = rsp
			response.ForcePut()
		}
	}
}

func sendEvents(event *rtipc.Producer[Event], id, num uint32, force bool) int32 {
	for i := uint32(0); i < num; i++ {
		*event.Msg() = Event{ID: id, Nr: i}
		if force {
			event.ForcePut()
		} else if !event.TryPut() {
			return int32(i)
		}
	}
	return int32(num)
}

func div(a, b int32) (data int32, errCode int32) {
	if b == 0 {
		return 0, -1
	}
	return a / b, 0
}

func runClient(ctx context.Context, cfg *democonfig.Config) error {
	fd, err := dialWithRetry(ctx, cfg.SockPath)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ipc, err := rtipc.FromFd(fd, cfg.Cookie)
	if err != nil {
		return fmt.Errorf("from fd: %w", err)
	}
	defer ipc.Close()

	command, err := rtipc.TakeProducer[Command](ipc, 0)
	if err != nil {
		return fmt.Errorf("take command producer: %w", err)
	}
	response, err := rtipc.TakeConsumer[Response](ipc, 0)
	if err != nil {
		return fmt.Errorf("take response consumer: %w", err)
	}
	event, err := rtipc.TakeConsumer[Event](ipc, 1)
	if err != nil {
		return fmt.Errorf("take event consumer: %w", err)
	}

	cmds := []Command{
		{ID: CommandHello},
		{ID: CommandSendEvent, Args: [3]int32{7, 3, 0}},
		{ID: CommandDiv, Args: [3]int32{10, 2}},
		{ID: CommandDiv, Args: [3]int32{10, 0}},
		{ID: CommandStop},
	}

	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		*command.Msg() = cmd
		command.ForcePut()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}

		for response.FetchTail() == channel.FetchNew {
			log.Printf("client received response: %s", *response.Msg())
		}
		for event.FetchTail() == channel.FetchNew {
			log.Printf("client received event: %s", *event.Msg())
		}
	}

	return nil
}

func dialWithRetry(ctx context.Context, sockPath string) (int, error) {
	buf := make([]byte, 16)

	for {
		fd, _, err := fdsock.Dial(sockPath, buf)
		if err == nil {
			return fd, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
