package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// NopCollector discards every observation. Used by tests and by components
// constructed without a collector.
type NopCollector struct{}

func (NopCollector) SessionRegistered(string)                            {}
func (NopCollector) SessionStateChanged(string, string)                  {}
func (NopCollector) SessionEvicted(string, string)                       {}
func (NopCollector) EnvelopePublished(string)                            {}
func (NopCollector) EnvelopeRejected(string, string)                     {}
func (NopCollector) EnvelopeReceived(string, int)                        {}
func (NopCollector) EnvelopeSent(string, int)                            {}
func (NopCollector) ReconnectAttempt(string)                             {}
func (NopCollector) NegotiationStateChanged(string, string)              {}
func (NopCollector) FeedbackSubmitted(string)                            {}
func (NopCollector) FeedbackStatusChanged(string)                        {}
func (NopCollector) FeedbackStoreError(string)                           {}
func (NopCollector) HTTPRequest(string, string, int, time.Duration, int) {}
func (NopCollector) Handler() http.Handler                               { return http.NotFoundHandler() }

// OrNop returns c, or a NopCollector when c is nil
func OrNop(c Collector) Collector {
	if c == nil {
		return NopCollector{}
	}
	return c
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
