package dash

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// mpd mirrors the subset of ISO/IEC 23009-1 needed for a live,
// dynamic-type manifest with template-addressed segments, per spec
// §4.5/§6/§8.
type mpd struct {
	XMLName               xml.Name  `xml:"MPD"`
	Xmlns                 string    `xml:"xmlns,attr"`
	Profiles              string    `xml:"profiles,attr"`
	Type                  string    `xml:"type,attr"`
	AvailabilityStartTime string    `xml:"availabilityStartTime,attr"`
	PublishTime           string    `xml:"publishTime,attr"`
	MinimumUpdatePeriod   string    `xml:"minimumUpdatePeriod,attr"`
	MinBufferTime         string    `xml:"minBufferTime,attr"`
	TimeShiftBufferDepth  string    `xml:"timeShiftBufferDepth,attr"`
	Period                mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	ID             string        `xml:"id,attr"`
	Start          string        `xml:"start,attr"`
	AdaptationSets []mpdAdaptSet `xml:"AdaptationSet"`
}

type mpdAdaptSet struct {
	ContentType    string            `xml:"contentType,attr"`
	SegmentAlign   string            `xml:"segmentAlignment,attr"`
	Representation mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string          `xml:"id,attr"`
	Bandwidth       int             `xml:"bandwidth,attr"`
	Codecs          string          `xml:"codecs,attr,omitempty"`
	Width           uint16          `xml:"width,attr,omitempty"`
	Height          uint16          `xml:"height,attr,omitempty"`
	AudioSampleRate uint32          `xml:"audioSamplingRate,attr,omitempty"`
	SegmentTemplate mpdSegTemplate  `xml:"SegmentTemplate"`
}

type mpdSegTemplate struct {
	Timescale      uint32            `xml:"timescale,attr"`
	Initialization string            `xml:"initialization,attr"`
	Media          string            `xml:"media,attr"`
	StartNumber    uint32            `xml:"startNumber,attr"`
	Timeline       []mpdSegTimelineS `xml:"SegmentTimeline>S"`
}

type mpdSegTimelineS struct {
	D uint32 `xml:"d,attr"`
	R int    `xml:"r,attr,omitempty"`
}

// writeMPD regenerates and atomically publishes the manifest reflecting
// the current video/audio windows. Must be called with mu held.
func (s *Segmenter) writeMPD() error {
	if len(s.video.window) == 0 && len(s.audio.window) == 0 {
		return nil
	}

	lastFragDur := s.cfg.FragmentDuration
	if n := len(s.video.window); n > 0 {
		lastFragDur = s.video.window[n-1].Duration
	}

	doc := mpd{
		Xmlns:                  "urn:mpeg:dash:schema:mpd:2011",
		Profiles:               "urn:mpeg:dash:profile:isoff-live:2011",
		Type:                   "dynamic",
		AvailabilityStartTime:  s.availabilityAt.UTC().Format(time.RFC3339),
		PublishTime:            time.Now().UTC().Format(time.RFC3339),
		MinimumUpdatePeriod:    xmlDuration(lastFragDur),
		MinBufferTime:          xmlDuration(2 * lastFragDur),
		TimeShiftBufferDepth:   xmlDuration(time.Duration(s.cfg.WindowSize) * lastFragDur),
		Period: mpdPeriod{
			ID:    "0",
			Start: "PT0S",
		},
	}

	if len(s.video.window) > 0 {
		doc.Period.AdaptationSets = append(doc.Period.AdaptationSets, mpdAdaptSet{
			ContentType:  "video",
			SegmentAlign: "true",
			Representation: mpdRepresentation{
				ID:        "video",
				Bandwidth: 2_000_000,
				Width:     s.width,
				Height:    s.height,
				SegmentTemplate: mpdSegTemplate{
					Timescale:      s.video.timescale,
					Initialization: s.streamName + "-init.mp4",
					Media:          s.streamName + "-v-$Number$.m4s",
					StartNumber:    s.video.window[0].SequenceNumber,
					Timeline:       timelineFor(s.video.window, s.video.timescale),
				},
			},
		})
	}
	if len(s.audio.window) > 0 {
		doc.Period.AdaptationSets = append(doc.Period.AdaptationSets, mpdAdaptSet{
			ContentType:  "audio",
			SegmentAlign: "true",
			Representation: mpdRepresentation{
				ID:        "audio",
				Bandwidth: 128_000,
				SegmentTemplate: mpdSegTemplate{
					Timescale:      s.audio.timescale,
					Initialization: s.streamName + "-init.mp4",
					Media:          s.streamName + "-a-$Number$.m4s",
					StartNumber:    s.audio.window[0].SequenceNumber,
					Timeline:       timelineFor(s.audio.window, s.audio.timescale),
				},
			},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("dash: marshal mpd: %w", err)
	}
	out = append([]byte(xml.Header), out...)

	path := filepath.Join(s.cfg.OutputDir, s.streamName+".mpd")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("dash: write mpd: %w", err)
	}
	return os.Rename(tmp, path)
}

func timelineFor(window []Segment, timescale uint32) []mpdSegTimelineS {
	out := make([]mpdSegTimelineS, 0, len(window))
	for _, seg := range window {
		d := uint32(seg.Duration.Seconds() * float64(timescale))
		out = append(out, mpdSegTimelineS{D: d})
	}
	return out
}

func xmlDuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	return fmt.Sprintf("PT%.3fS", d.Seconds())
}
