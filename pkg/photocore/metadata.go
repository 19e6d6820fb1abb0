package photocore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
)

// capturedAtLayout parses an EXIF digitized timestamp concatenated with
// its UTC offset, e.g. "2022:08:07 13:41:18" + "-07:00".
const capturedAtLayout = "2006:01:02 15:04:05-07:00"

// MetadataExtractor parses embedded image metadata into a normalized
// structure and derives the capture timestamp. The document is recomputed
// in full on every asset replace.
type MetadataExtractor struct {
	blobs  BlobStore
	logger *slog.Logger
}

// NewMetadataExtractor creates an extractor over the given backend.
func NewMetadataExtractor(blobs BlobStore, logger *slog.Logger) *MetadataExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataExtractor{blobs: blobs, logger: logger}
}

// Extract loads the primary object's embedded tags and returns the
// normalized document plus the derived capture timestamp. An asset with
// no EXIF block yields a document with only the file section; capturedAt
// is nil unless both the digitized timestamp and a UTC offset are present
// (unset is preferable to a wrong file-system fallback).
func (m *MetadataExtractor) Extract(ctx context.Context, primaryKey string) (*Metadata, *time.Time, error) {
	path, err := m.blobs.Get(ctx, primaryKey)
	if err != nil {
		return nil, nil, err
	}
	defer os.Remove(path)

	md := &Metadata{File: fileSection(path)}

	rawExif, err := exif.SearchFileAndExtractExif(path)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return md, nil, nil
		}
		return nil, nil, &ProcessingError{Key: primaryKey, Err: err}
	}

	tags, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return nil, nil, &ProcessingError{Key: primaryKey, Err: err}
	}

	capturedAt := collectTags(md, tags)
	return md, capturedAt, nil
}

// collectTags fills the allow-listed sections from the flat tag list and
// returns the derived capture timestamp, if any.
func collectTags(md *Metadata, tags []exif.ExifTag) *time.Time {
	var dateTime, offsetDigitized, offsetTime string

	for _, tag := range tags {
		value := sanitizeTagValue(tag.Formatted)
		if value == "" {
			continue
		}
		switch tag.IfdPath {
		case "IFD", "IFD/Exif":
			if md.Exif == nil {
				md.Exif = make(map[string]string)
			}
			md.Exif[tag.TagName] = value
		case "IFD/GPSInfo":
			if md.GPS == nil {
				md.GPS = make(map[string]string)
			}
			md.GPS[tag.TagName] = value
		default:
			// Interop and thumbnail IFDs are outside the allow-list.
			continue
		}

		switch tag.TagName {
		case "DateTimeDigitized":
			dateTime = sanitizeTagValue(tag.FormattedFirst)
		case "OffsetTimeDigitized":
			offsetDigitized = sanitizeTagValue(tag.FormattedFirst)
		case "OffsetTime":
			offsetTime = sanitizeTagValue(tag.FormattedFirst)
		}
	}

	offset := offsetDigitized
	if offset == "" {
		offset = offsetTime
	}
	return deriveCapturedAt(dateTime, offset)
}

// deriveCapturedAt combines the digitized timestamp with its UTC offset.
// Both tags are required; there is no fallback source.
func deriveCapturedAt(dateTime, offset string) *time.Time {
	if dateTime == "" || offset == "" {
		return nil
	}
	t, err := time.Parse(capturedAtLayout, dateTime+offset)
	if err != nil {
		return nil
	}
	return &t
}

// sanitizeTagValue strips embedded NUL characters, which the persistence
// layer rejects, and surrounding whitespace.
func sanitizeTagValue(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, "\x00", ""))
}

func fileSection(path string) map[string]string {
	section := make(map[string]string)
	if info, err := os.Stat(path); err == nil {
		section["size"] = strconv.FormatInt(info.Size(), 10)
	}
	return section
}
