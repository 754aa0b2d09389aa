// Package jshost runs hosted content in-process on the sobek JS
// engine.
//
// It stands in for a platform webview backend: the serializer glue
// script is evaluated into a real JS environment, page scripts call
// the host through it, and the host delivers envelopes back with the
// same evaluate-script primitive a native backend would use. The demo
// command and the integration tests exercise the full messaging path
// through it.
package jshost

import (
	"fmt"

	"github.com/grafana/sobek"
	"github.com/rs/zerolog"

	"github.com/bnema/tether/pkg/dispatch"
	"github.com/bnema/tether/pkg/serializer"
)

// Page is one simulated hosted page. The underlying JS runtime is not
// thread-safe, so every evaluation is confined to the main loop.
type Page struct {
	loop *dispatch.Loop
	vm   *sobek.Runtime
	log  zerolog.Logger

	// onMessage receives raw wire strings the page sends to the host.
	// Invoked on the loop thread.
	onMessage func(wire string)
}

// New creates a page and injects the serializer glue, the way a
// backend injects it on every page load.
func New(loop *dispatch.Loop, ser serializer.Serializer, log zerolog.Logger) (*Page, error) {
	p := &Page{
		loop: loop,
		vm:   sobek.New(),
		log:  log.With().Str("component", "jshost").Logger(),
	}

	err := loop.Invoke(func() error {
		// Hosted scripts address the global scope as window.
		if err := p.vm.Set("window", p.vm.GlobalObject()); err != nil {
			return fmt.Errorf("set window global: %w", err)
		}

		// The backend transport hook the glue script sends through.
		err := p.vm.Set("__tether_send", func(wire string) {
			p.log.Debug().Int("len", len(wire)).Msg("page sent message")
			if p.onMessage != nil {
				p.onMessage(wire)
			}
		})
		if err != nil {
			return fmt.Errorf("set send hook: %w", err)
		}

		if _, err := p.vm.RunString(ser.Script()); err != nil {
			return fmt.Errorf("inject glue script: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// OnMessage sets the host-side sink for messages the page sends,
// typically a bridge's Receive.
func (p *Page) OnMessage(fn func(wire string)) {
	_ = p.loop.Invoke(func() error {
		p.onMessage = fn
		return nil
	})
}

// DeliverScript evaluates script inside the page. Implements
// bridge.Transport.
func (p *Page) DeliverScript(script string) error {
	return p.loop.Invoke(func() error {
		if _, err := p.vm.RunString(script); err != nil {
			return fmt.Errorf("evaluate script: %w", err)
		}
		return nil
	})
}

// Run evaluates page content, e.g. a script exposing functions or
// calling the host.
func (p *Page) Run(script string) error {
	return p.DeliverScript(script)
}

// Drain gives the page's promise reactions a chance to run and
// propagate queued messages. sobek resolves promise jobs as part of
// RunString, so an empty evaluation flushes the job queue.
func (p *Page) Drain() error {
	return p.DeliverScript(";")
}
