// Package tables defines typed rows of the star schema and their parquet encoding.
// Pointer fields are nullable columns, both when scanned and when written.
package tables

import (
	"time"
)

// UserRow represents a single row in the users dimension.
type UserRow struct {
	UserID    int32   `db:"user_id" parquet:"user_id"`
	FirstName *string `db:"first_name" parquet:"first_name"`
	LastName  *string `db:"last_name" parquet:"last_name"`
	Gender    *string `db:"gender" parquet:"gender"`
	Level     *string `db:"level" parquet:"level"`
}

// TableName returns the canonical table name.
func (UserRow) TableName() string { return "users" }

// SongRow represents a single row in the songs dimension.
type SongRow struct {
	SongID   string   `db:"song_id" parquet:"song_id"`
	Title    *string  `db:"title" parquet:"title"`
	ArtistID *string  `db:"artist_id" parquet:"artist_id"`
	Year     *int32   `db:"year" parquet:"year"`
	Duration *float64 `db:"duration" parquet:"duration"`
}

func (SongRow) TableName() string { return "songs" }

// ArtistRow represents a single row in the artists dimension.
type ArtistRow struct {
	ArtistID  string   `db:"artist_id" parquet:"artist_id"`
	Name      *string  `db:"name" parquet:"name"`
	Location  *string  `db:"location" parquet:"location"`
	Latitude  *float64 `db:"latitude" parquet:"latitude"`
	Longitude *float64 `db:"longitude" parquet:"longitude"`
}

func (ArtistRow) TableName() string { return "artists" }

// TimeRow represents a single row in the time dimension.
type TimeRow struct {
	StartTime time.Time `db:"start_time" parquet:"start_time,timestamp(millisecond)"`
	Hour      int32     `db:"hour" parquet:"hour"`
	Day       int32     `db:"day" parquet:"day"`
	Week      int32     `db:"week" parquet:"week"`
	Month     int32     `db:"month" parquet:"month"`
	Year      int32     `db:"year" parquet:"year"`
	Weekday   int32     `db:"weekday" parquet:"weekday"`
}

func (TimeRow) TableName() string { return "time" }

// SongplayRow represents a single row in the songplays fact table.
// Song and artist ids are null when no catalog song matched the event.
type SongplayRow struct {
	SongplayID int32     `db:"songplay_id" parquet:"songplay_id"`
	StartTime  time.Time `db:"start_time" parquet:"start_time,timestamp(millisecond)"`
	UserID     int32     `db:"user_id" parquet:"user_id"`
	Level      *string   `db:"level" parquet:"level"`
	SongID     *string   `db:"song_id" parquet:"song_id"`
	ArtistID   *string   `db:"artist_id" parquet:"artist_id"`
	SessionID  *int32    `db:"session_id" parquet:"session_id"`
	Location   *string   `db:"location" parquet:"location"`
	UserAgent  *string   `db:"user_agent" parquet:"user_agent"`
}

func (SongplayRow) TableName() string { return "songplays" }

// SchemaVersion returns the version of the snapshot schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"
