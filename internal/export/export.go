// Package export renders finished hikes as GPX and KML documents.
package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"backend-trailwatch/internal/track"

	"github.com/twpayne/go-kml/v3"
)

type Format string

const (
	FormatGPX Format = "gpx"
	FormatKML Format = "kml"
)

// ParseFormat accepts the query value of an export request. An empty value means GPX.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatGPX:
		return FormatGPX, nil
	case FormatKML:
		return FormatKML, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatKML {
		return "application/vnd.google-earth.kml+xml"
	}
	return "application/gpx+xml"
}

// Track is the part of a hike the exporters need.
type Track struct {
	Name        string
	Description string
	StartTime   time.Time
	Points      []track.TrackPoint
}

func Write(w io.Writer, f Format, t Track) error {
	if f == FormatKML {
		return WriteKML(w, t)
	}
	return WriteGPX(w, t)
}

const creator = "trailwatch"

type gpxDoc struct {
	XMLName  xml.Name    `xml:"gpx"`
	Version  string      `xml:"version,attr"`
	Creator  string      `xml:"creator,attr"`
	XMLNS    string      `xml:"xmlns,attr"`
	Metadata gpxMetadata `xml:"metadata"`
	Tracks   []gpxTrack  `xml:"trk"`
}

type gpxMetadata struct {
	Name string    `xml:"name,omitempty"`
	Time time.Time `xml:"time"`
}

type gpxTrack struct {
	Name        string       `xml:"name,omitempty"`
	Description string       `xml:"desc,omitempty"`
	Segments    []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat       float64   `xml:"lat,attr"`
	Lon       float64   `xml:"lon,attr"`
	Elevation float64   `xml:"ele"`
	Time      time.Time `xml:"time"`
}

// WriteGPX writes a GPX 1.1 document with one track and one segment.
func WriteGPX(w io.Writer, t Track) error {
	seg := gpxSegment{Points: make([]gpxPoint, len(t.Points))}
	for i, p := range t.Points {
		seg.Points[i] = gpxPoint{
			Lat:       p.Lat,
			Lon:       p.Lng,
			Elevation: p.AltitudeM,
			Time:      p.Timestamp.UTC(),
		}
	}
	doc := gpxDoc{
		Version:  "1.1",
		Creator:  creator,
		XMLNS:    "http://www.topografix.com/GPX/1/1",
		Metadata: gpxMetadata{Name: t.Name, Time: t.StartTime.UTC()},
		Tracks: []gpxTrack{{
			Name:        t.Name,
			Description: t.Description,
			Segments:    []gpxSegment{seg},
		}},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	return enc.Flush()
}

// WriteKML writes the track as a LineString placemark, plus start and end markers.
func WriteKML(w io.Writer, t Track) error {
	coords := make([]kml.Coordinate, len(t.Points))
	for i, p := range t.Points {
		coords[i] = kml.Coordinate{Lon: p.Lng, Lat: p.Lat, Alt: p.AltitudeM}
	}

	elements := []kml.Element{kml.Name(t.Name)}
	if t.Description != "" {
		elements = append(elements, kml.Description(t.Description))
	}
	if len(coords) >= 2 {
		elements = append(elements, kml.Placemark(
			kml.Name("Track"),
			kml.LineString(kml.Coordinates(coords...)),
		))
	}
	if len(coords) > 0 {
		elements = append(elements,
			kml.Placemark(kml.Name("Start"), kml.Point(kml.Coordinates(coords[0]))),
			kml.Placemark(kml.Name("End"), kml.Point(kml.Coordinates(coords[len(coords)-1]))),
		)
	}

	doc := kml.KML(kml.Document(elements...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("write kml: %w", err)
	}
	return nil
}
