// Package ids provides opaque, non-interchangeable string identifier
// types for the four identifier spaces the syncer reasons about: source
// media items, source albums, sink assets, sink albums. Equality is
// byte-exact; no normalization is performed (unlike driveid.ID in the
// onedrive sibling package, these ids are never case-folded or padded by
// either upstream API).
//
// This is a leaf package with zero external dependencies beyond stdlib.
package ids

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
)

// SourceItemID identifies a media item (photo or video) in the source
// library. Never comparable to any other id type.
type SourceItemID struct{ value string }

// SourceAlbumID identifies an album in the source library.
type SourceAlbumID struct{ value string }

// SinkItemID identifies an asset in the sink library.
type SinkItemID struct{ value string }

// SinkAlbumID identifies an album in the sink library.
type SinkAlbumID struct{ value string }

// NewSourceItemID wraps a raw source media item id. Empty input returns
// the zero value, the single representation for "absent".
func NewSourceItemID(raw string) SourceItemID { return SourceItemID{raw} }

// NewSourceAlbumID wraps a raw source album id.
func NewSourceAlbumID(raw string) SourceAlbumID { return SourceAlbumID{raw} }

// NewSinkItemID wraps a raw sink asset id.
func NewSinkItemID(raw string) SinkItemID { return SinkItemID{raw} }

// NewSinkAlbumID wraps a raw sink album id.
func NewSinkAlbumID(raw string) SinkAlbumID { return SinkAlbumID{raw} }

func (id SourceItemID) String() string  { return id.value }
func (id SourceAlbumID) String() string { return id.value }
func (id SinkItemID) String() string    { return id.value }
func (id SinkAlbumID) String() string   { return id.value }

func (id SourceItemID) IsZero() bool  { return id.value == "" }
func (id SourceAlbumID) IsZero() bool { return id.value == "" }
func (id SinkItemID) IsZero() bool    { return id.value == "" }
func (id SinkAlbumID) IsZero() bool   { return id.value == "" }

func (id SourceItemID) Equal(other SourceItemID) bool   { return id.value == other.value }
func (id SourceAlbumID) Equal(other SourceAlbumID) bool { return id.value == other.value }
func (id SinkItemID) Equal(other SinkItemID) bool       { return id.value == other.value }
func (id SinkAlbumID) Equal(other SinkAlbumID) bool     { return id.value == other.value }

func (id SourceItemID) MarshalText() ([]byte, error)  { return []byte(id.value), nil }
func (id SourceAlbumID) MarshalText() ([]byte, error) { return []byte(id.value), nil }
func (id SinkItemID) MarshalText() ([]byte, error)    { return []byte(id.value), nil }
func (id SinkAlbumID) MarshalText() ([]byte, error)   { return []byte(id.value), nil }

func (id *SourceItemID) UnmarshalText(text []byte) error {
	*id = NewSourceItemID(string(text))
	return nil
}

func (id *SourceAlbumID) UnmarshalText(text []byte) error {
	*id = NewSourceAlbumID(string(text))
	return nil
}

func (id *SinkItemID) UnmarshalText(text []byte) error {
	*id = NewSinkItemID(string(text))
	return nil
}

func (id *SinkAlbumID) UnmarshalText(text []byte) error {
	*id = NewSinkAlbumID(string(text))
	return nil
}

// Scan implements sql.Scanner. SQL NULL produces the zero value.
func (id *SourceItemID) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return fmt.Errorf("ids.SourceItemID.Scan: %w", err)
	}
	*id = NewSourceItemID(v)
	return nil
}

func (id *SourceAlbumID) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return fmt.Errorf("ids.SourceAlbumID.Scan: %w", err)
	}
	*id = NewSourceAlbumID(v)
	return nil
}

func (id *SinkItemID) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return fmt.Errorf("ids.SinkItemID.Scan: %w", err)
	}
	*id = NewSinkItemID(v)
	return nil
}

func (id *SinkAlbumID) Scan(src any) error {
	v, err := scanString(src)
	if err != nil {
		return fmt.Errorf("ids.SinkAlbumID.Scan: %w", err)
	}
	*id = NewSinkAlbumID(v)
	return nil
}

func scanString(src any) (string, error) {
	if src == nil {
		return "", nil
	}
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("unsupported type %T", src)
	}
}

// Value implements driver.Valuer. The zero value writes SQL NULL.
func (id SourceItemID) Value() (driver.Value, error)  { return valueString(id.value) }
func (id SourceAlbumID) Value() (driver.Value, error) { return valueString(id.value) }
func (id SinkItemID) Value() (driver.Value, error)    { return valueString(id.value) }
func (id SinkAlbumID) Value() (driver.Value, error)   { return valueString(id.value) }

func valueString(v string) (driver.Value, error) {
	if v == "" {
		return nil, nil
	}
	return v, nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = SourceItemID{}
	_ encoding.TextUnmarshaler = (*SourceItemID)(nil)
	_ fmt.Stringer             = SourceItemID{}
	_ driver.Valuer            = SourceItemID{}
	_ sql.Scanner              = (*SourceItemID)(nil)

	_ encoding.TextMarshaler   = SourceAlbumID{}
	_ encoding.TextUnmarshaler = (*SourceAlbumID)(nil)
	_ fmt.Stringer             = SourceAlbumID{}
	_ driver.Valuer            = SourceAlbumID{}
	_ sql.Scanner              = (*SourceAlbumID)(nil)

	_ encoding.TextMarshaler   = SinkItemID{}
	_ encoding.TextUnmarshaler = (*SinkItemID)(nil)
	_ fmt.Stringer             = SinkItemID{}
	_ driver.Valuer            = SinkItemID{}
	_ sql.Scanner              = (*SinkItemID)(nil)

	_ encoding.TextMarshaler   = SinkAlbumID{}
	_ encoding.TextUnmarshaler = (*SinkAlbumID)(nil)
	_ fmt.Stringer             = SinkAlbumID{}
	_ driver.Valuer            = SinkAlbumID{}
	_ sql.Scanner              = (*SinkAlbumID)(nil)
)
