package models

import "time"

type ClubType string

const (
	ClubDriver        ClubType = "DRIVER"
	ClubWood3         ClubType = "WOOD_3"
	ClubWood5         ClubType = "WOOD_5"
	ClubHybrid        ClubType = "HYBRID"
	ClubIron3         ClubType = "IRON_3"
	ClubIron4         ClubType = "IRON_4"
	ClubIron5         ClubType = "IRON_5"
	ClubIron6         ClubType = "IRON_6"
	ClubIron7         ClubType = "IRON_7"
	ClubIron8         ClubType = "IRON_8"
	ClubIron9         ClubType = "IRON_9"
	ClubPitchingWedge ClubType = "PITCHING_WEDGE"
	ClubSandWedge     ClubType = "SAND_WEDGE"
	ClubLobWedge      ClubType = "LOB_WEDGE"
	ClubPutter        ClubType = "PUTTER"
)

// GPSPosition is a capture-time coordinate fix. Opaque to the sync engine.
type GPSPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// Shot is one recorded golf shot. The sync engine only reads ID, RoundID
// and UpdatedAt; everything else is carried as payload.
type Shot struct {
	ID         string       `json:"id"`
	RoundID    string       `json:"roundId"`
	HoleNumber int          `json:"holeNumber"`
	SwingNum   int          `json:"swingNumber"`
	ClubType   ClubType     `json:"clubType"`
	GPSOrigin  *GPSPosition `json:"gpsOrigin,omitempty"`
	Distance   float64      `json:"distance,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Round is one round of golf grouping shots.
type Round struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"accountId"`
	CourseID   string     `json:"courseId,omitempty"`
	CourseName string     `json:"courseName,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
