// internal/session/resources.go
package session

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

// Resource is an immutable snapshot of one completed network exchange.
// Content is the raw payload, never text-decoded here.
type Resource struct {
	URL     string
	Content []byte
	Status  int
	Headers map[string]string
}

// newResource captures a finished engine reply. Headers whose name or value
// are not valid UTF-8 are dropped with a logged warning: losing one header
// is preferable to losing the whole capture.
func newResource(logger *zap.Logger, reply engine.Reply, status int) *Resource {
	r := &Resource{
		URL:     reply.URL(),
		Content: reply.Content(),
		Status:  status,
		Headers: make(map[string]string),
	}
	for _, h := range reply.RawHeaders() {
		if !utf8.Valid(h.Name) || !utf8.Valid(h.Value) {
			logger.Warn("Dropping header with invalid characters",
				zap.ByteString("name", h.Name), zap.ByteString("value", h.Value))
			continue
		}
		r.Headers[string(h.Name)] = string(h.Value)
	}
	logger.Info("Resource loaded", zap.String("url", r.URL), zap.Int("status", status))
	return r
}

// replyFinished collects one completed exchange into the session buffer.
// Replies without an HTTP status failed at the transport level; they are
// logged and skipped.
func (s *Session) replyFinished(reply engine.Reply) {
	status, ok := reply.HTTPStatus()
	if !ok {
		s.logger.Debug("Reply finished without HTTP status, not collected", zap.String("url", reply.URL()))
		return
	}
	s.resources = append(s.resources, newResource(s.logger, reply, status))
}

// unsupportedContent is the secondary ingestion path: the engine marks
// replies it cannot render, and the collector still captures the full
// payload once available.
func (s *Session) unsupportedContent(reply engine.Reply) {
	s.logger.Info("Unsupported content", zap.String("url", reply.URL()))
	status, ok := reply.HTTPStatus()
	if !ok {
		return
	}
	s.resources = append(s.resources, newResource(s.logger, reply, status))
}

// releaseResources drains the buffer: it returns every resource collected
// since the previous draining read, in completion order, and clears the
// buffer so no resource is ever delivered twice.
func (s *Session) releaseResources() []*Resource {
	last := s.resources
	s.resources = nil
	return last
}
