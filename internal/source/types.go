package source

import "github.com/tonimelisma/immich-sync/internal/ids"

// MediaItem mirrors the fields of a Google Photos Library API MediaItem
// the core consumes (spec §3). All fields except ID may be absent.
type MediaItem struct {
	ID             ids.SourceItemID
	Filename       string
	MediaMetadata  *MediaMetadata
	BaseURL        string // ephemeral download URL, short-lived (spec §3, §9)
	MimeType       string
	ProductURL     string
	ContributorInfo string
}

// MediaMetadata is the nested metadata block on a MediaItem. Exactly one
// of Photo or Video is populated.
type MediaMetadata struct {
	CreationTime string // ISO-8601
	Width        int64
	Height       int64
	Photo        *PhotoMetadata
	Video        *VideoMetadata
}

// PhotoMetadata carries EXIF-derived fields for photo items.
type PhotoMetadata struct {
	CameraMake      string
	CameraModel     string
	FocalLength     float64
	ApertureFNumber float64
	ISOEquivalent   int64
	ExposureTime    float64 // seconds
}

// VideoMetadata carries camera fields for video items (fps is fetched but
// unused by the core; kept only because the wire format includes it).
type VideoMetadata struct {
	CameraMake  string
	CameraModel string
	FPS         float64
}

// Album mirrors the fields of a Google Photos Album the core consumes.
type Album struct {
	ID                 ids.SourceAlbumID
	Title              string
	MediaItemsCount    string // string-encoded integer, per spec §3
	SharedAlbumOptions bool
	ProductURL         string
}
