// Package notification fans scored alerts out to delivery sinks: a chat
// webhook for reviewers and the live event stream for connected dashboards.
package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/procuresight/procuresight/internal/models"
)

// Sink delivers one alert to one destination. Implementations must be safe
// for concurrent use; the dispatcher calls Deliver from multiple workers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert models.Alert) error
}

// Normalize fills the fields a sink needs when the scorer left them empty.
// Severity defaults to medium and unknown severities are clamped.
func Normalize(alert models.Alert) models.Alert {
	switch alert.Severity {
	case models.SeverityHigh, models.SeverityMedium:
	default:
		alert.Severity = models.SeverityMedium
	}
	if alert.Type == "" {
		alert.Type = "unknown"
	}
	if alert.Meta == nil {
		alert.Meta = map[string]any{}
	}
	return alert
}

// SummaryText renders the one-line alert summary used by chat sinks:
//
//	[HIGH] unit_price_delta (vendor=ven-1, invoice=INV-1042)
//
// The vendor and invoice identifiers always come from the alert row itself;
// the human-facing invoice number from meta is preferred over the row id
// when a rule recorded one.
func SummaryText(alert models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Type)

	invoice := alert.InvoiceID
	// Meta holds *string before persistence and plain string after the JSON
	// round trip.
	switch no := alert.Meta["invoice_no"].(type) {
	case string:
		if no != "" {
			invoice = no
		}
	case *string:
		if no != nil && *no != "" {
			invoice = *no
		}
	}

	var tags []string
	if alert.VendorID != "" {
		tags = append(tags, "vendor="+alert.VendorID)
	}
	if invoice != "" {
		tags = append(tags, "invoice="+invoice)
	}
	if len(tags) > 0 {
		b.WriteString(" (" + strings.Join(tags, ", ") + ")")
	}
	if alert.Message != "" {
		b.WriteString("\n" + alert.Message)
	}
	return b.String()
}

// StreamEvent is the payload broadcast to live subscribers. Meta is reduced
// to the keys a dashboard row needs.
type StreamEvent struct {
	AlertID   string          `json:"alert_id"`
	InvoiceID string          `json:"invoice_id"`
	VendorID  string          `json:"vendor_id"`
	Type      string          `json:"type"`
	Severity  models.Severity `json:"severity"`
	Message   string          `json:"message"`
	Meta      map[string]any  `json:"meta,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// streamMetaKeys is the subset of alert meta exposed on the live stream.
var streamMetaKeys = []string{"invoice_no", "rule", "ratio", "baseline_window", "sku"}

// NewStreamEvent converts an alert into its stream payload.
func NewStreamEvent(alert models.Alert) StreamEvent {
	meta := make(map[string]any, len(streamMetaKeys))
	for _, k := range streamMetaKeys {
		if v, ok := alert.Meta[k]; ok {
			meta[k] = v
		}
	}
	return StreamEvent{
		AlertID:   alert.ID,
		InvoiceID: alert.InvoiceID,
		VendorID:  alert.VendorID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Message:   alert.Message,
		Meta:      meta,
		CreatedAt: alert.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
