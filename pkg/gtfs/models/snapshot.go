package models

import "time"

// SnapshotInfo describes one materialized rail subset
type SnapshotInfo struct {
	SnapshotID    int       `json:"snapshot_id"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	IsActive      bool      `json:"is_active"`
	RouteCount    int64     `json:"route_count"`
	TripCount     int64     `json:"trip_count"`
	StopTimeCount int64     `json:"stop_time_count"`
	StopCount     int64     `json:"stop_count"`
	ShapeCount    int64     `json:"shape_count"`
	TransferCount int64     `json:"transfer_count"`
}
