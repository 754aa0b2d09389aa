package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/tether/internal/jshost"
	"github.com/bnema/tether/internal/logging"
	"github.com/bnema/tether/pkg/bridge"
	"github.com/bnema/tether/pkg/dispatch"
	"github.com/bnema/tether/pkg/events"
	"github.com/bnema/tether/pkg/scheme"
	"github.com/bnema/tether/pkg/serializer"
	"github.com/bnema/tether/pkg/stash"
)

const demoPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>tether</title></head>
<body><h1>tether demo</h1></body>
</html>`

func newRunCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the messaging demo end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := NewCLI()
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cli, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall demo timeout")

	return cmd
}

func runDemo(ctx context.Context, cli *CLI, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := cli.Log
	loop := dispatch.New(dispatch.Options{
		QueueSize: cli.Config.Dispatch.QueueSize,
		Logger:    log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(ctx)
		return nil
	})

	g.Go(func() error {
		defer loop.Quit()
		return driveDemo(ctx, cli, loop)
	})

	return g.Wait()
}

// driveDemo exercises the full messaging path: page -> host call,
// host -> page call, and a scheme request.
func driveDemo(ctx context.Context, cli *CLI, loop *dispatch.Loop) error {
	log := cli.Log
	ser := serializer.JSON{}

	page, err := jshost.New(loop, ser, log)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}

	br := bridge.New(loop, ser, page, log)
	defer br.Close()
	page.OnMessage(br.Receive)

	// Native functions callable from the page.
	reported := make(chan string, 1)
	err = br.Register("echo", bridge.HandlerFunc(func(ctx context.Context, params []json.RawMessage) (any, error) {
		logging.FromContext(ctx).Debug().Int("params", len(params)).Msg("echo invoked")
		return params, nil
	}))
	if err != nil {
		return err
	}
	err = br.Register("report", bridge.HandlerFunc(func(_ context.Context, params []json.RawMessage) (any, error) {
		if len(params) > 0 {
			select {
			case reported <- string(params[0]):
			default:
			}
		}
		return nil, nil
	}))
	if err != nil {
		return err
	}

	// Vetoable navigation event, fired before a scheme request is
	// handed to the pipeline.
	var owned events.Group
	navigating := events.Track(&owned, events.NewVetoSlot[string](loop, log))
	defer owned.ClearAll()

	navigating.On(func(url string) bool {
		log.Info().Str("url", url).Msg("navigating")
		return false
	})

	// Scheme pipeline serving the demo page lazily.
	registry := scheme.NewRegistry(loop, log)
	err = registry.Register("app", scheme.ResolverFunc(func(req *scheme.Request, ex *scheme.Executor) {
		if req.URL != "app://demo/" {
			ex.Reject(scheme.ErrorNotFound)
			return
		}
		body := stash.Lazy(func() stash.Stash {
			return stash.From([]byte(demoPage))
		})
		ex.Resolve(scheme.NewResponse(http.StatusOK, "text/html", body))
	}), schemePolicy(cli, "app"))
	if err != nil {
		return err
	}

	if navigating.Fire("app://demo/") {
		return fmt.Errorf("navigation to %s vetoed", "app://demo/")
	}

	served := make(chan *scheme.Response, 1)
	registry.Handle("app", &scheme.Request{
		URL:    "app://demo/",
		Method: http.MethodGet,
		Header: http.Header{},
	}, func(res *scheme.Response) {
		served <- res
	})

	select {
	case res := <-served:
		log.Info().Int("status", res.Status).Int("bytes", res.Body.Size()).Msg("scheme request served")
	case <-ctx.Done():
		return ctx.Err()
	}

	// Page exposes a function, host calls it.
	err = page.Run(`window.tether.expose("greet", function (name) { return "Hello, " + name + "!"; });`)
	if err != nil {
		return err
	}

	pending, err := br.Call("greet", json.RawMessage(`"tether"`))
	if err != nil {
		return err
	}
	if err := page.Drain(); err != nil {
		return err
	}
	greeting, err := pending.Wait(ctx)
	if err != nil {
		return fmt.Errorf("greet call: %w", err)
	}
	log.Info().RawJSON("result", greeting).Msg("page answered host call")

	// Page calls the host and reports the round-tripped result back.
	err = page.Run(`window.tether.call("echo", 1, "two", true).then(function (r) {
		return window.tether.call("report", r);
	});`)
	if err != nil {
		return err
	}
	if err := page.Drain(); err != nil {
		return err
	}

	select {
	case echoed := <-reported:
		log.Info().Str("result", echoed).Msg("host call round-tripped through page")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func schemePolicy(cli *CLI, name string) scheme.LaunchPolicy {
	if sc, ok := cli.Config.Schemes[name]; ok && sc.Policy == "sync" {
		return scheme.LaunchSync
	}
	return scheme.LaunchAsync
}
