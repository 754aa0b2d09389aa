// Package serializer converts wire strings exchanged with hosted
// content into typed records and back.
//
// The serializer only knows the envelope shape; arguments and results
// pass through as raw JSON so concrete codecs can be layered on top.
// It also renders the glue script injected once into every page load,
// which defines how the page formats outgoing messages and receives
// inbound ones.
package serializer

import (
	"encoding/json"
	"fmt"
)

// FunctionCall is an inbound or outbound invocation of a named
// function: a unique id, the target name and the raw argument list.
type FunctionCall struct {
	ID     uint64
	Name   string
	Params []json.RawMessage
}

// CallResult answers a FunctionCall with the same id, carrying either
// a raw value or an error message.
type CallResult struct {
	ID     uint64
	Result json.RawMessage
	Error  string
}

// Message is a parsed wire string: *FunctionCall, *CallResult, or nil
// for input that is not ours. Callers must treat nil as "not for us",
// never as a failure; shared message channels see foreign traffic.
type Message interface {
	message()
}

func (*FunctionCall) message() {}
func (*CallResult) message()   {}

// Serializer is the pluggable envelope codec. Implementations must be
// safe for concurrent use; they hold no state.
type Serializer interface {
	// Parse decodes a wire string. Malformed or foreign input yields
	// nil, never an error.
	Parse(wire string) Message

	// SerializeCall renders an outbound function call envelope.
	SerializeCall(id uint64, name string, params []json.RawMessage) (string, error)

	// SerializeResult renders an outbound result envelope. A non-nil
	// callErr produces an error result.
	SerializeResult(id uint64, result json.RawMessage, callErr error) (string, error)

	// DeliverScript wraps a wire envelope into the script statement
	// that hands it to the page-side receiver.
	DeliverScript(wire string) (string, error)

	// Script is the glue injected once per page load. It defines the
	// page-side sender, receiver and pending-promise table.
	Script() string

	// JSSerializer names the page-side function used to format
	// outgoing messages so Parse recognizes them.
	JSSerializer() string
}

const (
	callTag    = "tether:call"
	resolveTag = "tether:resolve"
)

type callEnvelope struct {
	Tag    bool              `json:"tether:call"`
	ID     uint64            `json:"id"`
	Name   string            `json:"name"`
	Params []json.RawMessage `json:"params"`
}

type resultEnvelope struct {
	Tag    bool            `json:"tether:resolve"`
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// JSON is the default Serializer: JSON envelopes tagged "tether:call"
// and "tether:resolve".
type JSON struct{}

// Parse decodes a wire string by sniffing the envelope tag.
func (JSON) Parse(wire string) Message {
	data := []byte(wire)

	var call callEnvelope
	if err := json.Unmarshal(data, &call); err == nil && call.Tag && call.Name != "" {
		return &FunctionCall{ID: call.ID, Name: call.Name, Params: call.Params}
	}

	var result resultEnvelope
	if err := json.Unmarshal(data, &result); err == nil && result.Tag {
		return &CallResult{ID: result.ID, Result: result.Result, Error: result.Error}
	}

	return nil
}

// SerializeCall renders a call envelope.
func (JSON) SerializeCall(id uint64, name string, params []json.RawMessage) (string, error) {
	if params == nil {
		params = []json.RawMessage{}
	}

	data, err := json.Marshal(callEnvelope{Tag: true, ID: id, Name: name, Params: params})
	if err != nil {
		return "", fmt.Errorf("serialize call %q: %w", name, err)
	}
	return string(data), nil
}

// SerializeResult renders a result envelope.
func (JSON) SerializeResult(id uint64, result json.RawMessage, callErr error) (string, error) {
	env := resultEnvelope{Tag: true, ID: id}
	if callErr != nil {
		env.Error = callErr.Error()
	} else {
		env.Result = result
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("serialize result %d: %w", id, err)
	}
	return string(data), nil
}

// DeliverScript wraps a wire envelope into the call that hands it to
// the page-side receiver. The envelope is embedded as a JS string
// literal, so it is marshalled once more for escaping.
func (JSON) DeliverScript(wire string) (string, error) {
	quoted, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("quote envelope: %w", err)
	}
	return fmt.Sprintf("window.tether.deliver(%s);", quoted), nil
}

// JSSerializer names the page-side message formatter.
func (JSON) JSSerializer() string {
	return "JSON.stringify"
}

// Script returns the page glue. window.__tether_send is the transport
// hook each backend provides (postMessage on WebKit, chrome.webview on
// WebView2, the channel object on Qt).
func (j JSON) Script() string {
	return fmt.Sprintf(glueScript, j.JSSerializer())
}

const glueScript = `(function () {
	if (window.tether) { return; }

	var serialize = %s;
	var pending = new Map();
	var nextId = 1;

	var tether = {
		handlers: {},

		send: function (message) {
			window.__tether_send(message);
		},

		expose: function (name, fn) {
			this.handlers[name] = fn;
		},

		call: function (name) {
			var params = Array.prototype.slice.call(arguments, 1);
			var id = nextId++;
			var self = this;
			return new Promise(function (resolve, reject) {
				pending.set(id, { resolve: resolve, reject: reject });
				self.send(serialize({ "tether:call": true, id: id, name: name, params: params }));
			});
		},

		deliver: function (raw) {
			var msg = JSON.parse(raw);
			var self = this;

			if (msg["tether:call"]) {
				var fn = this.handlers[msg.name];
				Promise.resolve()
					.then(function () {
						if (!fn) { throw new Error("unknown function: " + msg.name); }
						return fn.apply(null, msg.params);
					})
					.then(function (result) {
						self.send(serialize({ "tether:resolve": true, id: msg.id, result: result }));
					})
					.catch(function (err) {
						self.send(serialize({ "tether:resolve": true, id: msg.id, error: String(err) }));
					});
				return;
			}

			if (msg["tether:resolve"]) {
				var entry = pending.get(msg.id);
				if (!entry) { return; }
				pending.delete(msg.id);
				if (msg.error) {
					entry.reject(new Error(msg.error));
				} else {
					entry.resolve(msg.result);
				}
			}
		}
	};

	window.tether = tether;
})();`
