package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kestrun/kestrun-go/values"
)

// Bridge is the host object injected into every script invocation under the
// global name "ks". Scripts mutate the response model, defer writes, stream
// directly, read the shared-state snapshot and publish shared-state writes
// through it. One bridge serves one request.
type Bridge struct {
	mu       sync.Mutex
	model    *ResponseModel
	state    *SharedState
	snapshot map[string]any
	culture  language.Tag
	printer  *message.Printer
	direct   DirectWriter
	request  map[string]any
	logger   *logrus.Logger
	errs     []string
	started  bool
}

// BridgeConfig assembles a Bridge for one request.
type BridgeConfig struct {
	Model    *ResponseModel
	State    *SharedState
	Snapshot map[string]any
	Culture  language.Tag
	Direct   DirectWriter
	Request  map[string]any
	Logger   *logrus.Logger
}

// NewBridge creates the request bridge.
func NewBridge(config BridgeConfig) *Bridge {
	model := config.Model
	if model == nil {
		model = NewResponseModel()
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{
		model:    model,
		state:    config.State,
		snapshot: config.Snapshot,
		culture:  config.Culture,
		printer:  message.NewPrinter(config.Culture),
		direct:   config.Direct,
		request:  config.Request,
		logger:   logger,
	}
}

// Model returns the response model the bridge mutates.
func (b *Bridge) Model() *ResponseModel {
	return b.model
}

// SetStatus records the response status code.
func (b *Bridge) SetStatus(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.Status = code
}

// SetHeader replaces a response header.
func (b *Bridge) SetHeader(name string, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.Header.Set(name, value)
}

// AddHeader appends a response header value.
func (b *Bridge) AddHeader(name string, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.Header.Add(name, value)
}

// SetContentType records the response media type.
func (b *Bridge) SetContentType(contentType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.ContentType = contentType
}

// WriteBody records the response payload. The value is normalized so guests
// hand back the same tree shapes decoders produce.
func (b *Bridge) WriteBody(body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.SetBody(values.ToPlain(values.Normalize(body)))
}

// Redirect records a redirect target; it supersedes status, headers and body
// when the model is applied.
func (b *Bridge) Redirect(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model.RedirectURL = url
}

// WriteLater defers the payload decision to after the script completes.
func (b *Bridge) WriteLater(payload any, mediaType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model.Postponed == nil {
		b.model.Postponed = &PostponedWrite{}
	}
	b.model.Postponed.Payload = values.ToPlain(values.Normalize(payload))
	b.model.Postponed.MediaType = mediaType
}

// FailLater registers a deferred failure; it wins over any postponed payload.
func (b *Bridge) FailLater(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model.Postponed == nil {
		b.model.Postponed = &PostponedWrite{}
	}
	b.model.Postponed.ErrorCode = code
}

// WriteDirect pushes bytes straight onto the response stream, bypassing the
// model. Accepts strings and byte slices.
func (b *Bridge) WriteDirect(data any) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.direct == nil {
		return 0, fmt.Errorf("direct writing is not available on this route")
	}

	var payload []byte
	switch typed := data.(type) {
	case string:
		payload = []byte(typed)
	case []byte:
		payload = typed
	default:
		payload = []byte(fmt.Sprint(typed))
	}

	n, err := b.direct.Write(payload)
	if err != nil {
		return n, err
	}
	b.direct.Flush()
	b.started = true
	return n, nil
}

// HasStarted reports whether bytes already reached the wire; the model is
// skipped when they have.
func (b *Bridge) HasStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return true
	}
	return b.direct != nil && b.direct.Written()
}

// SharedGet reads a shared-state value from the lease snapshot, matching
// case-insensitively. Writes made after the lease are not visible.
func (b *Bridge) SharedGet(name string) any {
	if value, ok := b.snapshot[name]; ok {
		return value
	}
	for key, value := range b.snapshot {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return nil
}

// SharedSet publishes a shared-state write immediately; later leases see it.
func (b *Bridge) SharedSet(name string, value any) {
	if b.state == nil {
		return
	}
	b.state.Set(name, value)
}

// SharedKeys lists the snapshot keys.
func (b *Bridge) SharedKeys() []string {
	keys := make([]string, 0, len(b.snapshot))
	for key := range b.snapshot {
		keys = append(keys, key)
	}
	return keys
}

// EmitError appends a record to the request error stream. A non-empty stream
// after the script completes fails the request.
func (b *Bridge) EmitError(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, message)
}

// ErrorRecords returns the emitted error stream.
func (b *Bridge) ErrorRecords() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.errs...)
}

// Format renders a format string under the request culture; numbers pick up
// locale-aware separators.
func (b *Bridge) Format(format string, args ...any) string {
	return b.printer.Sprintf(format, args...)
}

// CultureTag returns the BCP 47 tag of the request culture.
func (b *Bridge) CultureTag() string {
	return b.culture.String()
}

// Request returns the request descriptor: method, path, query, headers,
// remote address and request id.
func (b *Bridge) Request() map[string]any {
	return b.request
}

// Log writes a message to the host log at info level.
func (b *Bridge) Log(message string) {
	b.logger.Info(message)
}
