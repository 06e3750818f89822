// Package telemetry fetches air-quality readings from ThingSpeak with
// rate limiting, retries, caching and graceful degradation.
package telemetry

import (
	"strconv"
	"time"
)

// Channel describes a ThingSpeak channel.
type Channel struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Latitude    string    `json:"latitude"`
	Longitude   string    `json:"longitude"`
	Field1      string    `json:"field1"`
	Field2      string    `json:"field2"`
	Field3      string    `json:"field3"`
	Field4      string    `json:"field4"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastEntryID int       `json:"last_entry_id"`
}

// Entry is one reading. ThingSpeak returns every field as a string, so the
// typed accessors do the parsing.
type Entry struct {
	CreatedAt time.Time `json:"created_at"`
	EntryID   int       `json:"entry_id"`
	Field1    string    `json:"field1"`
	Field2    string    `json:"field2"`
	Field3    string    `json:"field3"`
	Field4    string    `json:"field4"`
}

// Feed is the channel feed response: channel metadata plus a page of entries.
type Feed struct {
	Channel Channel `json:"channel"`
	Entries []Entry `json:"feeds"`
}

// Measurement is one parsed reading. The field layout follows the sensor
// firmware: humidity, temperature, PM2.5, PM10.
type Measurement struct {
	Timestamp   time.Time `json:"timestamp"`
	EntryID     int       `json:"entryId"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
	PM25        float64   `json:"pm25"`
	PM10        float64   `json:"pm10"`
}

func parseField(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Measurement parses the entry's string fields into numbers. Unparseable
// fields read as zero rather than failing the whole page.
func (e Entry) Measurement() Measurement {
	return Measurement{
		Timestamp:   e.CreatedAt,
		EntryID:     e.EntryID,
		Humidity:    parseField(e.Field1),
		Temperature: parseField(e.Field2),
		PM25:        parseField(e.Field3),
		PM10:        parseField(e.Field4),
	}
}

// Measurements converts a feed page to parsed readings.
func (f *Feed) Measurements() []Measurement {
	out := make([]Measurement, 0, len(f.Entries))
	for _, e := range f.Entries {
		out = append(out, e.Measurement())
	}
	return out
}
