package sink

import "github.com/tonimelisma/immich-sync/internal/ids"

// AssetType mirrors the sink's asset type enum (spec §3).
type AssetType string

const (
	AssetTypeImage AssetType = "IMAGE"
	AssetTypeVideo AssetType = "VIDEO"
	AssetTypeAudio AssetType = "AUDIO"
	AssetTypeOther AssetType = "OTHER"
)

// ExifInfo mirrors the sink's nested EXIF block (spec §3). Exposure time
// arrives as either "Xs" or "num/den"; empty make/model are normalized to
// "" here and treated as absent by internal/matcher.
type ExifInfo struct {
	Make              string
	Model             string
	DateTimeOriginal  string
	ModifyDate        string
	ExifImageWidth    float64
	ExifImageHeight   float64
	ExposureTime      string
	FNumber           float64
	FocalLength       float64
	ISO               int64
}

// AssetResponse mirrors the fields of a sink asset the core consumes
// (spec §3).
type AssetResponse struct {
	ID              ids.SinkItemID
	Type            AssetType
	FileCreatedAt   string
	FileModifiedAt  string
	LocalDateTime   string
	Exif            *ExifInfo
	OriginalFileName string
}

// Album mirrors the fields of a sink album the core consumes (spec §3).
type Album struct {
	ID        ids.SinkAlbumID
	AlbumName string
}

// UploadRequest carries the fields the Writer supplies for a new asset
// (spec §4.8).
type UploadRequest struct {
	AssetData      []byte
	DeviceAssetID  string // sha1 of AssetData
	DeviceID       string // constant "immich-sync"
	FileCreatedAt  string
	FileModifiedAt string
	Checksum       string // sha1 of AssetData, base64 or hex per wire choice
	Filename       string
}
