// Package export streams raw engagement events as CSV.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/models"
)

// Header is the fixed CSV column order.
var Header = []string{
	"timestampUtc", "eventType", "userId", "sessionId", "country",
	"deviceType", "browser", "os", "positionSeconds", "referrer",
}

// Exporter writes raw events in CSV form, ordered by timestamp ascending.
type Exporter struct {
	events store.EventStore
}

func NewExporter(events store.EventStore) *Exporter {
	return &Exporter{events: events}
}

// WriteCSV streams the video's events in [start, end) to w. Fields
// containing commas, quotes, or newlines come out quoted with inner quotes
// doubled, which encoding/csv does on its own. The writer flushes per row so
// large exports stream instead of buffering.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, tenantID, videoID string, start, end time.Time) error {
	events, err := e.events.EventsInRange(ctx, tenantID, store.EventQuery{
		VideoID: videoID,
		Start:   start,
		End:     end,
	})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, ev := range events {
		if err := cw.Write(row(ev)); err != nil {
			return err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(ev models.EngagementEvent) []string {
	var userID, sessionID, position string
	if ev.ViewerUserID != nil {
		userID = *ev.ViewerUserID
	}
	if ev.SessionID != nil {
		sessionID = *ev.SessionID
	}
	if ev.PositionSeconds != nil {
		position = strconv.FormatFloat(*ev.PositionSeconds, 'f', -1, 64)
	}
	return []string{
		ev.Timestamp.UTC().Format(time.RFC3339),
		ev.EventType,
		userID,
		sessionID,
		ev.Country,
		ev.Device,
		ev.Browser,
		ev.OS,
		position,
		ev.Referrer,
	}
}
