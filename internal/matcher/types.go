// Package matcher normalizes source and sink media metadata into a
// common shape and decides whether two representations plausibly
// describe the same photo or video (spec §3, §4.4).
package matcher

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/immich-sync/internal/sink"
	"github.com/tonimelisma/immich-sync/internal/source"
)

// PhotoData is the normalized photo-only field set (spec §3).
type PhotoData struct {
	CameraMake      *string
	CameraModel     *string
	FocalLength     *float64
	ApertureFNumber *float64
	ISOEquivalent   *int64
	ExposureTime    *float64 // seconds
}

// VideoData is the normalized video-only field set (spec §3).
type VideoData struct {
	CameraMake  *string
	CameraModel *string
}

// ImageData is the canonical metadata form MetadataMatcher compares
// (spec §3). AllTimes holds every timestamp-bearing field from either
// side, collapsed to unix seconds so that differing string formats
// (trailing "Z" vs ".000Z", explicit offsets) do not defeat the
// intersection check in Compare.
type ImageData struct {
	AllTimes map[int64]struct{}
	Width    *float64
	Height   *float64
	Photo    *PhotoData
	Video    *VideoData
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrFloat(f float64) *float64 { return &f }
func ptrInt64(i int64) *int64     { return &i }

// addTime parses a timestamp with either RFC3339 or RFC3339Nano and adds
// its unix-seconds value to the set. Unparseable or empty strings are
// silently skipped — the matcher is a heuristic and tolerates missing
// data (spec §4.4: "intentionally lenient toward missing fields").
func addTime(set map[int64]struct{}, s string) {
	if s == "" {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return
		}
	}
	set[t.Unix()] = struct{}{}
}

// FromSource normalizes a source MediaItem (spec §4.4: "source
// contributes its single creation_time").
func FromSource(item source.MediaItem) ImageData {
	data := ImageData{AllTimes: map[int64]struct{}{}}
	meta := item.MediaMetadata
	if meta == nil {
		return data
	}

	addTime(data.AllTimes, meta.CreationTime)
	if meta.Width > 0 {
		data.Width = ptrFloat(float64(meta.Width))
	}
	if meta.Height > 0 {
		data.Height = ptrFloat(float64(meta.Height))
	}

	if p := meta.Photo; p != nil {
		data.Photo = &PhotoData{
			CameraMake:      emptyToNil(p.CameraMake),
			CameraModel:     emptyToNil(p.CameraModel),
			FocalLength:     nonZeroFloat(p.FocalLength),
			ApertureFNumber: nonZeroFloat(p.ApertureFNumber),
			ISOEquivalent:   nonZeroInt64(p.ISOEquivalent),
			ExposureTime:    nonZeroFloat(p.ExposureTime),
		}
	}
	if v := meta.Video; v != nil {
		data.Video = &VideoData{
			CameraMake:  emptyToNil(v.CameraMake),
			CameraModel: emptyToNil(v.CameraModel),
		}
	}
	return data
}

func nonZeroFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return ptrFloat(f)
}

func nonZeroInt64(i int64) *int64 {
	if i == 0 {
		return nil
	}
	return ptrInt64(i)
}

// FromSink normalizes a sink AssetResponse (spec §4.4: "sink contributes
// multiple timestamps... duplicates removed"). A malformed exposure_time
// string is logged and treated as absent rather than failing the whole
// conversion — the fix for the original implementation's panic on this
// same input (spec §9 Open Question).
func FromSink(asset sink.AssetResponse, logger *slog.Logger) ImageData {
	data := ImageData{AllTimes: map[int64]struct{}{}}
	addTime(data.AllTimes, asset.FileCreatedAt)
	addTime(data.AllTimes, asset.FileModifiedAt)
	addTime(data.AllTimes, asset.LocalDateTime)

	exif := asset.Exif
	if exif != nil {
		addTime(data.AllTimes, exif.DateTimeOriginal)
		addTime(data.AllTimes, exif.ModifyDate)
		if exif.ExifImageWidth != 0 {
			data.Width = ptrFloat(exif.ExifImageWidth)
		}
		if exif.ExifImageHeight != 0 {
			data.Height = ptrFloat(exif.ExifImageHeight)
		}
	}

	switch asset.Type {
	case sink.AssetTypeImage:
		data.Photo = &PhotoData{}
		if exif != nil {
			data.Photo.CameraMake = emptyToNil(exif.Make)
			data.Photo.CameraModel = emptyToNil(exif.Model)
			data.Photo.FocalLength = nonZeroFloat(exif.FocalLength)
			data.Photo.ApertureFNumber = nonZeroFloat(exif.FNumber)
			data.Photo.ISOEquivalent = nonZeroInt64(exif.ISO)
			exposure, err := parseSinkExposureTime(exif.ExposureTime)
			if err != nil {
				if logger != nil {
					logger.Warn("matcher: ignoring malformed exposure time", "value", exif.ExposureTime, "error", err)
				}
			} else {
				data.Photo.ExposureTime = exposure
			}
		}
	case sink.AssetTypeVideo:
		data.Video = &VideoData{}
		if exif != nil {
			data.Video.CameraMake = emptyToNil(exif.Make)
			data.Video.CameraModel = emptyToNil(exif.Model)
		}
	}
	return data
}

// parseSinkExposureTime parses the sink's exposure_time string, which is
// either "Ns" (seconds) or "num/den" (a ratio). Any other shape is a
// parse error, never a panic (spec §9: the original implementation
// panicked here on a single malformed asset; this port must not).
func parseSinkExposureTime(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(strings.TrimSuffix(parts[0], "s"), 64)
		if err != nil {
			return nil, err
		}
		return ptrFloat(v), nil
	case 2:
		num, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, err
		}
		den, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, err
		}
		if den == 0 {
			return nil, fmt.Errorf("exposure time %q has a zero denominator", s)
		}
		return ptrFloat(num / den), nil
	default:
		return nil, fmt.Errorf("exposure time %q has an unrecognized shape", s)
	}
}
